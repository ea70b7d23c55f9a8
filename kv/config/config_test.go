package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	dir, err := ioutil.TempDir("", "tinytablet-config")
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	c := NewDefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, ClockTypeHybrid, c.Clock.Type)
	assert.Equal(t, 10*time.Millisecond, c.Mvcc.ClientDeadlineMargin.Duration)
	assert.Equal(t, time.Second, c.Mvcc.MaxWaitForSafeTime.Duration)

	c = NewTestConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, ClockTypeLogical, c.Clock.Type)
}

func TestValidate(t *testing.T) {
	c := NewTestConfig()
	c.Clock.Type = "atomic"
	assert.Error(t, c.Validate())

	c = NewTestConfig()
	c.Tablet.ApplyWorkers = -1
	assert.Error(t, c.Validate())

	c = NewTestConfig()
	c.Mvcc.ClientDeadlineMargin = NewDuration(-time.Second)
	assert.Error(t, c.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := writeConfigFile(t, "tablet.toml", `
status-addr = "127.0.0.1:9999"

[clock]
type = "logical"

[mvcc]
max-wait-for-safe-time = "250ms"

[tablet]
apply-workers = 3
`)
	defer os.RemoveAll(filepath.Dir(path))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", c.StatusAddr)
	assert.Equal(t, ClockTypeLogical, c.Clock.Type)
	assert.Equal(t, 250*time.Millisecond, c.Mvcc.MaxWaitForSafeTime.Duration)
	assert.Equal(t, defaultClientDeadlineMargin, c.Mvcc.ClientDeadlineMargin.Duration)
	assert.Equal(t, 3, c.Tablet.ApplyWorkers)
}

func TestLoadTOMLUnknownItem(t *testing.T) {
	path := writeConfigFile(t, "tablet.toml", `
[mvcc]
max-wait-for-safetime = "250ms"
`)
	defer os.RemoveAll(filepath.Dir(path))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfigFile(t, "tablet.yaml", `
clock:
  type: hybrid
  max-clock-error: 20ms
  max-clock-skew: 1s
workload:
  writers: 5
  write-rate: 100
`)
	defer os.RemoveAll(filepath.Dir(path))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ClockTypeHybrid, c.Clock.Type)
	assert.Equal(t, 20*time.Millisecond, c.Clock.MaxClockError.Duration)
	assert.Equal(t, time.Second, c.Clock.MaxClockSkew.Duration)
	assert.Equal(t, 5, c.Workload.Writers)
	assert.Equal(t, float64(100), c.Workload.WriteRate)
	assert.Equal(t, defaultWorkloadReaders, c.Workload.Readers)
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfigFile(t, "tablet.yml", `
mvcc:
  max-wait-for-safe-time: soon
`)
	defer os.RemoveAll(filepath.Dir(path))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := LoadFile("../mvcc-bench/mvcc-bench.toml")
	require.NoError(t, err)
	assert.Equal(t, ClockTypeHybrid, c.Clock.Type)
	assert.Equal(t, 500*time.Millisecond, c.Clock.MaxClockError.Duration)
	assert.Equal(t, 4, c.Tablet.ApplyWorkers)
	assert.Equal(t, 1024, c.Workload.Keys)
	assert.Equal(t, 10*time.Second, c.Workload.Duration.Duration)
}
