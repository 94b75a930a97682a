package telnet

import "fmt"

// RFC 854 command bytes.
const (
	SE   byte = 240
	NOP  byte = 241
	DM   byte = 242
	BRK  byte = 243
	IP   byte = 244
	AO   byte = 245
	AYT  byte = 246
	EC   byte = 247
	EL   byte = 248
	GA   byte = 249
	SB   byte = 250
	WILL byte = 251
	WONT byte = 252
	DO   byte = 253
	DONT byte = 254
	IAC  byte = 255
)

// Subnegotiation qualifiers.
const (
	IS   byte = 0
	SEND byte = 1
)

// Options negotiated by this package.
const (
	Echo         byte = 1  // RFC 857
	SGA          byte = 3  // RFC 858 Suppress Go Ahead
	TerminalType byte = 24 // RFC 1091
	NAWS         byte = 31 // RFC 1073 Negotiate About Window Size
)

var commandNames = map[byte]string{
	SE:   "SE",
	NOP:  "NOP",
	DM:   "DM",
	BRK:  "BRK",
	IP:   "IP",
	AO:   "AO",
	AYT:  "AYT",
	EC:   "EC",
	EL:   "EL",
	GA:   "GA",
	SB:   "SB",
	WILL: "WILL",
	WONT: "WONT",
	DO:   "DO",
	DONT: "DONT",
	IAC:  "IAC",
}

var optionNames = map[byte]string{
	Echo:         "ECHO",
	SGA:          "SGA",
	TerminalType: "TERMINAL-TYPE",
	NAWS:         "NAWS",
}

func CommandName(b byte) string {
	if s, ok := commandNames[b]; ok {
		return s
	}
	return fmt.Sprintf("cmd(%d)", b)
}

func OptionName(b byte) string {
	if s, ok := optionNames[b]; ok {
		return s
	}
	return fmt.Sprintf("option(%d)", b)
}

func isNegotiation(b byte) bool {
	return b == WILL || b == WONT || b == DO || b == DONT
}
