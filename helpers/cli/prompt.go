package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

// MainLoop feeds exec with operator lines.
// Interactive terminal gets go-prompt with completion, piped stdin is read line by line.
// Closing stopch ends piped input early.
func MainLoop(tag string, stopch <-chan struct{}, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		// TODO OptionHistory
		prompt.New(exec, complete,
			prompt.OptionTitle(tag),
			prompt.OptionPrefix(tag+"> "),
		).Run()
		return nil
	}
	return ScanLines(os.Stdin, stopch, exec)
}

// ScanLines calls exec for every non-empty trimmed line of r.
func ScanLines(r io.Reader, stopch <-chan struct{}, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-stopch:
			return nil
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return errors.Annotate(scanner.Err(), "read input")
}

// Suggest is prefix completion over fixed words.
func Suggest(words ...string) func(d prompt.Document) []prompt.Suggest {
	suggests := make([]prompt.Suggest, len(words))
	for i, w := range words {
		suggests[i] = prompt.Suggest{Text: w}
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}
