package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"gopkg.in/yaml.v2"
)

// Clock types accepted in the `clock.type` setting.
const (
	ClockTypeHybrid  = "hybrid"
	ClockTypeLogical = "logical"
)

type Config struct {
	// StatusAddr serves `/metrics` and `/status`. Empty disables the status server.
	StatusAddr string `toml:"status-addr" yaml:"status-addr"`

	Log      log.Config     `toml:"log" yaml:"log"`
	Clock    ClockConfig    `toml:"clock" yaml:"clock"`
	Mvcc     MvccConfig     `toml:"mvcc" yaml:"mvcc"`
	Tablet   TabletConfig   `toml:"tablet" yaml:"tablet"`
	Workload WorkloadConfig `toml:"workload" yaml:"workload"`
}

type ClockConfig struct {
	Type string `toml:"type" yaml:"type"`
	// MaxClockError bounds the error of a local clock reading; NowLatest adds it to Now.
	MaxClockError Duration `toml:"max-clock-error" yaml:"max-clock-error"`
	// MaxClockSkew bounds the difference between clocks of two servers.
	MaxClockSkew Duration `toml:"max-clock-skew" yaml:"max-clock-skew"`
}

type MvccConfig struct {
	// MaxWaitForSafeTime caps how long a read waits for a clean snapshot.
	MaxWaitForSafeTime Duration `toml:"max-wait-for-safe-time" yaml:"max-wait-for-safe-time"`
	// ClientDeadlineMargin is kept back from the caller's deadline so that a timed out read can
	// still be answered in time.
	ClientDeadlineMargin Duration `toml:"client-deadline-margin" yaml:"client-deadline-margin"`
}

type TabletConfig struct {
	// ApplyWorkers is the number of goroutines applying replicated entries.
	ApplyWorkers int `toml:"apply-workers" yaml:"apply-workers"`
}

type WorkloadConfig struct {
	Writers int `toml:"writers" yaml:"writers"`
	Readers int `toml:"readers" yaml:"readers"`
	Keys    int `toml:"keys" yaml:"keys"`
	// WriteRate limits writes per second across all writers. Zero means unlimited.
	WriteRate float64  `toml:"write-rate" yaml:"write-rate"`
	Duration  Duration `toml:"duration" yaml:"duration"`
}

const (
	defaultMaxClockError        = 500 * time.Millisecond
	defaultMaxClockSkew         = 500 * time.Millisecond
	defaultMaxWaitForSafeTime   = time.Second
	defaultClientDeadlineMargin = 10 * time.Millisecond
	defaultApplyWorkers         = 4
	defaultWorkloadWriters      = 8
	defaultWorkloadReaders      = 4
	defaultWorkloadKeys         = 1024
	defaultWorkloadDuration     = 10 * time.Second
)

func (c *Config) Validate() error {
	switch c.Clock.Type {
	case ClockTypeHybrid, ClockTypeLogical:
	default:
		return errors.Errorf("unknown clock type %q", c.Clock.Type)
	}
	if c.Clock.MaxClockError.Duration < 0 || c.Clock.MaxClockSkew.Duration < 0 {
		return errors.New("clock error and skew bounds must not be negative")
	}
	if c.Mvcc.MaxWaitForSafeTime.Duration <= 0 {
		return errors.New("max-wait-for-safe-time must be greater than 0")
	}
	if c.Mvcc.ClientDeadlineMargin.Duration < 0 {
		return errors.New("client-deadline-margin must not be negative")
	}
	if c.Tablet.ApplyWorkers <= 0 {
		return errors.New("apply-workers must be greater than 0")
	}
	if c.Workload.Keys <= 0 {
		return errors.New("workload keys must be greater than 0")
	}
	if c.Workload.WriteRate < 0 {
		return errors.New("workload write-rate must not be negative")
	}
	return nil
}

// Adjust fills every unset field with its default.
func (c *Config) Adjust() {
	adjustString(&c.Log.Level, getLogLevel())
	adjustString(&c.Clock.Type, ClockTypeHybrid)
	adjustDuration(&c.Clock.MaxClockError, defaultMaxClockError)
	adjustDuration(&c.Clock.MaxClockSkew, defaultMaxClockSkew)
	adjustDuration(&c.Mvcc.MaxWaitForSafeTime, defaultMaxWaitForSafeTime)
	adjustDuration(&c.Mvcc.ClientDeadlineMargin, defaultClientDeadlineMargin)
	adjustInt(&c.Tablet.ApplyWorkers, defaultApplyWorkers)
	adjustInt(&c.Workload.Writers, defaultWorkloadWriters)
	adjustInt(&c.Workload.Readers, defaultWorkloadReaders)
	adjustInt(&c.Workload.Keys, defaultWorkloadKeys)
	adjustDuration(&c.Workload.Duration, defaultWorkloadDuration)
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	c := &Config{
		StatusAddr: "127.0.0.1:20180",
	}
	c.Adjust()
	return c
}

// NewTestConfig uses a logical clock so that hybrid times are small and predictable.
func NewTestConfig() *Config {
	c := &Config{
		Clock: ClockConfig{Type: ClockTypeLogical},
		Mvcc: MvccConfig{
			MaxWaitForSafeTime:   NewDuration(100 * time.Millisecond),
			ClientDeadlineMargin: NewDuration(time.Millisecond),
		},
		Tablet: TabletConfig{ApplyWorkers: 2},
		Workload: WorkloadConfig{
			Writers:  2,
			Readers:  2,
			Keys:     16,
			Duration: NewDuration(200 * time.Millisecond),
		},
	}
	c.Adjust()
	return c
}

// LoadFile decodes the file at path over the defaults. `.yaml` and `.yml` files are parsed as
// YAML, everything else as TOML.
func LoadFile(path string) (*Config, error) {
	c := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err = yaml.UnmarshalStrict(data, c); err != nil {
			return nil, errors.Annotatef(err, "parse config %s", path)
		}
	default:
		meta, err := toml.DecodeFile(path, c)
		if err != nil {
			return nil, errors.Annotatef(err, "parse config %s", path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Errorf("config %s contains unknown items %v", path, undecoded)
		}
	}
	c.Adjust()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
