package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inDir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	inDir(t, t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "pion", cfg.Media.Engine)
	assert.Equal(t, 54*time.Second, cfg.Signal.PingPeriod)
	assert.Equal(t, 30*time.Second, cfg.Media.ConnectTimeout)

	codecs := cfg.RouterCodecs()
	require.Len(t, codecs, 3)
	assert.Equal(t, domain.KindAudio, codecs[0].Kind)
	assert.Equal(t, uint8(111), codecs[0].PayloadType)
	assert.Len(t, codecs[1].RTCPFeedback, 4)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(`
mode: debug
port: 9000
media:
  engine: loopback
  connect_timeout: 5s
  codecs:
    - kind: audio
      mime_type: audio/opus
      clock_rate: 48000
      channels: 2
      payload_type: 100
`), 0o644))
	inDir(t, dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("HUDDLE_PORT", "9100")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "loopback", cfg.Media.Engine)
	assert.Equal(t, 5*time.Second, cfg.Media.ConnectTimeout)
	require.Len(t, cfg.RouterCodecs(), 1)
	assert.Equal(t, uint8(100), cfg.RouterCodecs()[0].PayloadType)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Port:   0,
		Signal: SignalConfig{Backpressure: "ignore"},
		Media: MediaConfig{
			Engine:     "gstreamer",
			ICERole:    "sideways",
			UDPPortMin: 50000,
			UDPPortMax: 40000,
			Codecs:     []CodecConfig{{Kind: "data"}},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, part := range []string{"port", "media.engine", "udp_port_max", "media.codecs[0]", "signal.backpressure", "media.ice_role"} {
		assert.Contains(t, err.Error(), part)
	}

	cfg = Config{Port: 1, Media: MediaConfig{Engine: "loopback"}}
	assert.ErrorContains(t, cfg.Validate(), "media.codecs is empty")
}
