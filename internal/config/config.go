// Package config loads rig configuration from environment variables and
// flags, and constructs the process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	// envVarLog is the single verbosity switch: DEBUG selects debug logging,
	// anything else (including unset) selects info.
	envVarLog = "EYE_LOG"

	envVarRelayURL   = "EYECAM_RELAY_URL"
	envVarRelayPath  = "EYECAM_RELAY_PATH"
	envVarOwnSuffix  = "EYECAM_OWN_SUFFIX"
	envVarPeerSuffix = "EYECAM_PEER_SUFFIX"
	envVarSTUNURLs   = "EYECAM_STUN_URLS"
	envVarLogFormat  = "EYECAM_LOG_FORMAT"

	envVarSignalQueueCapacity  = "EYECAM_SIGNAL_QUEUE_CAPACITY"
	envVarSignalIdleTimeout    = "EYECAM_SIGNAL_IDLE_TIMEOUT"
	envVarCommandQueueCapacity = "EYECAM_COMMAND_QUEUE_CAPACITY"

	envVarServoModel  = "EYECAM_SERVO_MODEL"
	envVarServoDriver = "EYECAM_SERVO_DRIVER"
	envVarPWMChipPath = "EYECAM_PWM_CHIP_PATH"

	DefaultRelayURL   = "https://hook.snd.one"
	DefaultRelayPath  = "resonious/teleport"
	DefaultOwnSuffix  = "eye"
	DefaultPeerSuffix = "head"

	DefaultSignalQueueCapacity  = 64
	DefaultSignalIdleTimeout    = time.Hour
	DefaultCommandQueueCapacity = 512

	DefaultServoModel  = "sg90"
	DefaultPWMChipPath = "/sys/class/pwm/pwmchip0"
)

// DefaultSTUNURLs is the fixed STUN server set used for every negotiation
// session unless overridden.
var DefaultSTUNURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// ServoDriver selects how decoded positioning commands reach hardware.
type ServoDriver string

const (
	// ServoDriverPWM drives sysfs PWM channels (the real rig).
	ServoDriverPWM ServoDriver = "pwm"
	// ServoDriverOff logs commands and discards them, for development hosts
	// without pan/tilt hardware.
	ServoDriverOff ServoDriver = "off"
)

type Config struct {
	// Relay endpoint. The URL scheme selects the signaling transport:
	// http/https uses the SSE event stream, ws/wss uses a WebSocket.
	RelayURL   string
	RelayPath  string
	OwnSuffix  string
	PeerSuffix string

	STUNURLs []string

	SignalQueueCapacity  int
	SignalIdleTimeout    time.Duration
	CommandQueueCapacity int

	ServoModel  string
	ServoDriver ServoDriver
	PWMChipPath string

	LogFormat LogFormat
	LogLevel  slog.Level

	// CLI-only inputs.
	RendezvousName string
	VideoPath      string
	FrameDuration  time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	cfg := Config{
		RelayURL:             envOrDefault(lookup, envVarRelayURL, DefaultRelayURL),
		RelayPath:            envOrDefault(lookup, envVarRelayPath, DefaultRelayPath),
		OwnSuffix:            envOrDefault(lookup, envVarOwnSuffix, DefaultOwnSuffix),
		PeerSuffix:           envOrDefault(lookup, envVarPeerSuffix, DefaultPeerSuffix),
		ServoModel:           envOrDefault(lookup, envVarServoModel, DefaultServoModel),
		PWMChipPath:          envOrDefault(lookup, envVarPWMChipPath, DefaultPWMChipPath),
		SignalIdleTimeout:    DefaultSignalIdleTimeout,
		SignalQueueCapacity:  DefaultSignalQueueCapacity,
		CommandQueueCapacity: DefaultCommandQueueCapacity,
	}

	if raw, ok := lookup(envVarSTUNURLs); ok && strings.TrimSpace(raw) != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.STUNURLs = append(cfg.STUNURLs, u)
			}
		}
	} else {
		cfg.STUNURLs = append(cfg.STUNURLs, DefaultSTUNURLs...)
	}

	var err error
	if cfg.SignalQueueCapacity, err = envIntOrDefault(lookup, envVarSignalQueueCapacity, DefaultSignalQueueCapacity); err != nil {
		return Config{}, err
	}
	if cfg.CommandQueueCapacity, err = envIntOrDefault(lookup, envVarCommandQueueCapacity, DefaultCommandQueueCapacity); err != nil {
		return Config{}, err
	}
	if raw, ok := lookup(envVarSignalIdleTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarSignalIdleTimeout, raw, err)
		}
		cfg.SignalIdleTimeout = d
	}

	switch driver := ServoDriver(envOrDefault(lookup, envVarServoDriver, string(ServoDriverPWM))); driver {
	case ServoDriverPWM, ServoDriverOff:
		cfg.ServoDriver = driver
	default:
		return Config{}, fmt.Errorf("invalid %s %q (want pwm or off)", envVarServoDriver, driver)
	}

	switch format := LogFormat(envOrDefault(lookup, envVarLogFormat, string(LogFormatText))); format {
	case LogFormatText, LogFormatJSON:
		cfg.LogFormat = format
	default:
		return Config{}, fmt.Errorf("invalid %s %q (want text or json)", envVarLogFormat, format)
	}

	cfg.LogLevel = slog.LevelInfo
	if raw, _ := lookup(envVarLog); raw == "DEBUG" {
		cfg.LogLevel = slog.LevelDebug
	}

	fs := flag.NewFlagSet("eyecam-net", flag.ContinueOnError)
	fs.StringVar(&cfg.RendezvousName, "name", "", "rendezvous name shared with the viewer (required)")
	fs.StringVar(&cfg.VideoPath, "video", "", "H264 elementary stream to serve ('-' for stdin)")
	fs.DurationVar(&cfg.FrameDuration, "frame-duration", 33*time.Millisecond, "duration assigned to each video sample")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid relay url %q: %w", c.RelayURL, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("relay url %q: unsupported scheme %q", c.RelayURL, u.Scheme)
	}
	if c.SignalQueueCapacity <= 0 {
		return fmt.Errorf("signal queue capacity must be positive, got %d", c.SignalQueueCapacity)
	}
	if c.CommandQueueCapacity <= 0 {
		return fmt.Errorf("command queue capacity must be positive, got %d", c.CommandQueueCapacity)
	}
	if c.SignalIdleTimeout <= 0 {
		return fmt.Errorf("signal idle timeout must be positive, got %s", c.SignalIdleTimeout)
	}
	if c.OwnSuffix == c.PeerSuffix {
		return fmt.Errorf("own suffix and peer suffix must differ, both are %q", c.OwnSuffix)
	}
	return nil
}

// ICEServers returns the peer connection ICE server set.
func (c Config) ICEServers() []webrtc.ICEServer {
	if len(c.STUNURLs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.STUNURLs}}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
