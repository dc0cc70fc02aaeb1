package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "HUDDLE"

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	Log    LogConfig    `mapstructure:"log"`
	Signal SignalConfig `mapstructure:"signal"`
	Media  MediaConfig  `mapstructure:"media"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SignalConfig struct {
	ReadLimit  int64           `mapstructure:"read_limit"`
	PingPeriod time.Duration   `mapstructure:"ping_period"`
	SendBuffer int             `mapstructure:"send_buffer"`
	JoinRate   RateLimitConfig `mapstructure:"join_rate"`
	// Backpressure is "kick" or "drop": what happens to a receiver whose
	// send queue is full when a room event fans out.
	Backpressure string `mapstructure:"backpressure"`
}

type RateLimitConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type MediaConfig struct {
	// Engine is "pion" or "loopback".
	Engine           string        `mapstructure:"engine"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	AnnouncedIP      string        `mapstructure:"announced_ip"`
	UDPPortMin       uint16        `mapstructure:"udp_port_min"`
	UDPPortMax       uint16        `mapstructure:"udp_port_max"`
	ICERole          string        `mapstructure:"ice_role"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Codecs           []CodecConfig `mapstructure:"codecs"`
}

type CodecConfig struct {
	Kind         string           `mapstructure:"kind"`
	MimeType     string           `mapstructure:"mime_type"`
	ClockRate    uint32           `mapstructure:"clock_rate"`
	Channels     uint16           `mapstructure:"channels"`
	SDPFmtpLine  string           `mapstructure:"sdp_fmtp_line"`
	PayloadType  uint8            `mapstructure:"payload_type"`
	RTCPFeedback []FeedbackConfig `mapstructure:"rtcp_feedback"`
}

type FeedbackConfig struct {
	Type      string `mapstructure:"type"`
	Parameter string `mapstructure:"parameter"`
}

var videoFeedback = []map[string]any{
	{"type": "goog-remb"},
	{"type": "ccm", "parameter": "fir"},
	{"type": "nack"},
	{"type": "nack", "parameter": "pli"},
}

// DefaultCodecs is the router codec table used when the config file has
// none.
var DefaultCodecs = []map[string]any{
	{"kind": "audio", "mime_type": "audio/opus", "clock_rate": 48000, "channels": 2, "sdp_fmtp_line": "minptime=10;useinbandfec=1", "payload_type": 111},
	{"kind": "video", "mime_type": "video/VP8", "clock_rate": 90000, "payload_type": 96, "rtcp_feedback": videoFeedback},
	{"kind": "video", "mime_type": "video/H264", "clock_rate": 90000, "payload_type": 102, "sdp_fmtp_line": "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", "rtcp_feedback": videoFeedback},
}

// New returns a viper instance with every default set and environment
// overrides enabled (HUDDLE_MEDIA_ENGINE overrides media.engine).
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("config_env", "dev")
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "huddle-dev-secret")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.join_rate.limit", 5)
	v.SetDefault("signal.join_rate.interval", "1m")
	v.SetDefault("signal.backpressure", "kick")

	v.SetDefault("media.engine", "pion")
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.announced_ip", "")
	v.SetDefault("media.udp_port_min", 0)
	v.SetDefault("media.udp_port_max", 0)
	v.SetDefault("media.ice_role", "controlled")
	v.SetDefault("media.connect_timeout", "30s")
	v.SetDefault("media.operation_timeout", "10s")
	v.SetDefault("media.codecs", DefaultCodecs)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads config/config.<env>.yaml on top of the defaults in v. The
// environment name comes from CONFIG_ENV, then from v's config_env key.
func Load(v *viper.Viper) (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = v.GetString("config_env")
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("engine", cfg.Media.Engine).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Media.Engine {
	case "pion", "loopback":
	default:
		errs = append(errs, fmt.Errorf("media.engine %q: want pion or loopback", c.Media.Engine))
	}
	switch c.Signal.Backpressure {
	case "", "kick", "drop":
	default:
		errs = append(errs, fmt.Errorf("signal.backpressure %q: want kick or drop", c.Signal.Backpressure))
	}
	switch c.Media.ICERole {
	case "", "controlled", "controlling":
	default:
		errs = append(errs, fmt.Errorf("media.ice_role %q: want controlled or controlling", c.Media.ICERole))
	}
	if c.Media.UDPPortMax < c.Media.UDPPortMin {
		errs = append(errs, fmt.Errorf("media.udp_port_max %d below udp_port_min %d", c.Media.UDPPortMax, c.Media.UDPPortMin))
	}
	if len(c.Media.Codecs) == 0 {
		errs = append(errs, errors.New("media.codecs is empty"))
	}
	for i, codec := range c.Media.Codecs {
		if _, err := domain.ParseMediaKind(codec.Kind); err != nil {
			errs = append(errs, fmt.Errorf("media.codecs[%d]: %w", i, err))
		}
		if codec.MimeType == "" || codec.ClockRate == 0 {
			errs = append(errs, fmt.Errorf("media.codecs[%d]: mime_type and clock_rate are required", i))
		}
	}
	return errors.Join(errs...)
}

// RouterCodecs converts the configured codec table for the media engine.
func (c *Config) RouterCodecs() []domain.RTPCodec {
	out := make([]domain.RTPCodec, 0, len(c.Media.Codecs))
	for _, cc := range c.Media.Codecs {
		codec := domain.RTPCodec{
			Kind:        domain.MediaKind(cc.Kind),
			MimeType:    cc.MimeType,
			ClockRate:   cc.ClockRate,
			Channels:    cc.Channels,
			SDPFmtpLine: cc.SDPFmtpLine,
			PayloadType: cc.PayloadType,
		}
		for _, fb := range cc.RTCPFeedback {
			codec.RTCPFeedback = append(codec.RTCPFeedback, domain.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
		}
		out = append(out, codec)
	}
	return out
}
