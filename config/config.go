package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	stlog "log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/irishsmurf/kongjr-client/network"
	"github.com/irishsmurf/kongjr-client/protocol"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "KONG_"

// Config holds everything a client front-end needs to start a session.
type Config struct {
	ServerAddr   string
	PlayerPrefix string
	ClientType   string
	LogLevel     string
	LogFormat    string
	MetricsAddr  string // Empty disables the /metrics listener
	RecordPath   string
	ReplayPath   string
	ReplaySpeed  float64 // 1 is real time, 0 as fast as possible

	PollInterval  time.Duration
	InputRate     float64 // Outbound inputs per second
	InputBurst    int
	InputVelocity float64

	RecvTimeout   time.Duration
	WriteTimeout  time.Duration
	JoinTimeout   time.Duration
	MaxFrameBytes int
}

func Default() Config {
	return Config{
		ServerAddr:    "127.0.0.1:5555",
		PlayerPrefix:  "Player",
		ClientType:    protocol.ClientPlayer,
		LogLevel:      "info",
		LogFormat:     "text",
		ReplaySpeed:   1,
		PollInterval:  33 * time.Millisecond,
		InputRate:     120,
		InputBurst:    8,
		InputVelocity: protocol.DefaultVelocity,
		RecvTimeout:   network.DefaultRecvTimeout,
		WriteTimeout:  network.DefaultWriteTimeout,
		JoinTimeout:   network.DefaultJoinTimeout,
		MaxFrameBytes: protocol.DefaultMaxFrameBytes,
	}
}

// Load builds a Config from defaults, then an optional .env file, then
// KONG_* environment variables, then command-line args. Existing environment
// variables win over the .env file.
func Load(name string, args []string) (Config, error) {
	envFile := ".env"
	if v, ok := os.LookupEnv(EnvPrefix + "ENV_FILE"); ok {
		envFile = v
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.ClientType = strings.ToUpper(cfg.ClientType)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RegisterFlags binds every field to fs, using the current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ServerAddr, "addr", c.ServerAddr, "game server address (host:port, tcp:// or ws://)")
	fs.StringVar(&c.PlayerPrefix, "name", c.PlayerPrefix, "player id prefix; a random suffix is appended")
	fs.StringVar(&c.ClientType, "client-type", c.ClientType, "PLAYER or SPECTATOR")
	fs.StringVar(&c.LogLevel, "log", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text, json)")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "address for the Prometheus /metrics listener")
	fs.StringVar(&c.RecordPath, "record", c.RecordPath, "record received messages to this file")
	fs.StringVar(&c.ReplayPath, "replay", c.ReplayPath, "replay a recording instead of connecting")
	fs.Float64Var(&c.ReplaySpeed, "replay-speed", c.ReplaySpeed, "replay speed factor (0 plays without delays)")
	fs.DurationVar(&c.PollInterval, "poll", c.PollInterval, "input polling period")
	fs.Float64Var(&c.InputRate, "input-rate", c.InputRate, "maximum inputs sent per second")
	fs.IntVar(&c.InputBurst, "input-burst", c.InputBurst, "input rate limiter burst")
	fs.Float64Var(&c.InputVelocity, "velocity", c.InputVelocity, "velocity magnitude sent with each input")
	fs.DurationVar(&c.RecvTimeout, "recv-timeout", c.RecvTimeout, "socket receive timeout")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "socket write timeout")
	fs.DurationVar(&c.JoinTimeout, "join-timeout", c.JoinTimeout, "how long shutdown waits for the receive loop")
	fs.IntVar(&c.MaxFrameBytes, "max-frame", c.MaxFrameBytes, "largest undelimited message kept in the buffer")
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("SERVER_ADDR", &c.ServerAddr)
	str("PLAYER_PREFIX", &c.PlayerPrefix)
	str("CLIENT_TYPE", &c.ClientType)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("RECORD", &c.RecordPath)
	str("REPLAY", &c.ReplayPath)
	float("REPLAY_SPEED", &c.ReplaySpeed)
	dur("POLL_INTERVAL", &c.PollInterval)
	float("INPUT_RATE", &c.InputRate)
	integer("INPUT_BURST", &c.InputBurst)
	float("VELOCITY", &c.InputVelocity)
	dur("RECV_TIMEOUT", &c.RecvTimeout)
	dur("WRITE_TIMEOUT", &c.WriteTimeout)
	dur("JOIN_TIMEOUT", &c.JoinTimeout)
	integer("MAX_FRAME_BYTES", &c.MaxFrameBytes)
	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ServerAddr) == "" {
		errs = append(errs, errors.New("server address is empty"))
	}
	switch strings.ToUpper(c.ClientType) {
	case protocol.ClientPlayer, protocol.ClientSpectator:
	default:
		errs = append(errs, fmt.Errorf("client type %q: want %s or %s", c.ClientType, protocol.ClientPlayer, protocol.ClientSpectator))
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log level %q: want debug, info, warn or error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format %q: want text or json", c.LogFormat))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval %v must be positive", c.PollInterval))
	}
	if c.InputRate <= 0 || math.IsInf(c.InputRate, 0) || math.IsNaN(c.InputRate) {
		errs = append(errs, fmt.Errorf("input rate %v must be positive", c.InputRate))
	}
	if c.InputBurst < 1 {
		errs = append(errs, fmt.Errorf("input burst %d must be at least 1", c.InputBurst))
	}
	if c.InputVelocity <= 0 || math.IsInf(c.InputVelocity, 0) || math.IsNaN(c.InputVelocity) {
		errs = append(errs, fmt.Errorf("velocity %v must be positive", c.InputVelocity))
	}
	if c.RecvTimeout <= 0 || c.WriteTimeout <= 0 || c.JoinTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.MaxFrameBytes < 1024 {
		errs = append(errs, fmt.Errorf("max frame %d must be at least 1024 bytes", c.MaxFrameBytes))
	}
	if c.ReplaySpeed < 0 || math.IsNaN(c.ReplaySpeed) {
		errs = append(errs, fmt.Errorf("replay speed %v must not be negative", c.ReplaySpeed))
	}
	if c.RecordPath != "" && c.RecordPath == c.ReplayPath {
		errs = append(errs, errors.New("record and replay paths must differ"))
	}
	return errors.Join(errs...)
}

// Spectator reports whether the session should join without sending input.
func (c Config) Spectator() bool {
	return strings.EqualFold(c.ClientType, protocol.ClientSpectator)
}

// ConnOptions maps the network settings onto network.Options.
func (c Config) ConnOptions(logger *stlog.Logger) network.Options {
	return network.Options{
		RecvTimeout:   c.RecvTimeout,
		WriteTimeout:  c.WriteTimeout,
		JoinTimeout:   c.JoinTimeout,
		MaxFrameBytes: c.MaxFrameBytes,
		Logger:        logger,
	}
}

func parseLevel(s string) (stlog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return stlog.LevelDebug, true
	case "info", "":
		return stlog.LevelInfo, true
	case "warn":
		return stlog.LevelWarn, true
	case "error":
		return stlog.LevelError, true
	}
	return stlog.LevelInfo, false
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) *stlog.Logger {
	var leveler stlog.LevelVar
	level, _ := parseLevel(c.LogLevel)
	leveler.Set(level)
	opts := &stlog.HandlerOptions{Level: &leveler}
	if c.LogFormat == "json" {
		return stlog.New(stlog.NewJSONHandler(w, opts))
	}
	return stlog.New(stlog.NewTextHandler(w, opts))
}
