package state

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/onuctl/helpers"
	automation_config "github.com/temoto/onuctl/internal/automation/config"
	console_config "github.com/temoto/onuctl/internal/console/config"
	dnsrelay_config "github.com/temoto/onuctl/internal/dnsrelay/config"
	"github.com/temoto/onuctl/log2"
)

const DefaultStartRetry = 5 * time.Second

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogLevel      string `hcl:"log_level"`
	StartRetrySec int    `hcl:"start_retry_sec"`
	StartAttempts int    `hcl:"start_attempts"` // 0 = until success or shutdown

	Automation automation_config.Config `hcl:"automation"`
	Console    console_config.Config    `hcl:"console"`
	DNS        dnsrelay_config.Config   `hcl:"dns"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) StartRetry() time.Duration {
	return helpers.IntSecondDefault(c.StartRetrySec, DefaultStartRetry)
}

// Validate applies defaults and checks every section.
func (c *Config) Validate() error {
	errs := make([]error, 0)
	if _, ok := log2.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, errors.NotValidf("log_level=%s", c.LogLevel))
	}
	if c.StartRetrySec < 0 || c.StartAttempts < 0 {
		errs = append(errs, errors.NotValidf("start_retry_sec=%d start_attempts=%d", c.StartRetrySec, c.StartAttempts))
	}
	c.Automation.ApplyDefaults()
	c.Console.ApplyDefaults()
	c.DNS.ApplyDefaults()
	if err := c.Automation.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Console.Enabled {
		if err := c.Console.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DNS.Enabled {
		if err := c.DNS.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
