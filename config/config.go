// Package config loads the process configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize bounds the configuration file read.
const MaxFileSize = 1 << 20

type Config struct {
	// Device selects the embedded preset set.
	Device string `yaml:"device" validate:"required"`

	TickHz      uint32        `yaml:"tick_hz" validate:"gte=1,lte=100000"`
	Heartbeat   time.Duration `yaml:"heartbeat" validate:"gte=0"`
	BusQueueLen int           `yaml:"bus_queue_len" validate:"gte=1,lte=4096"`
	MaxBatch    int           `yaml:"max_batch" validate:"gte=1,lte=1024"`

	Bridge Bridge `yaml:"bridge"`

	PresetFile   string `yaml:"preset_file"`
	WatchPresets bool   `yaml:"watch_presets"`

	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Bridge configures the command/status transport.
type Bridge struct {
	// Transport is "shmring", "tcp" or "none".
	Transport   string  `yaml:"transport" json:"transport" validate:"oneof=shmring tcp none"`
	Addr        string  `yaml:"addr" json:"addr,omitempty" validate:"required_if=Transport tcp"`
	RingSize    int     `yaml:"ring_size" json:"ring_size" validate:"gte=16,lte=65536,pow2"`
	CommandRate float64 `yaml:"command_rate" json:"command_rate" validate:"gt=0"`
	Burst       int     `yaml:"burst" json:"burst" validate:"gte=1"`
}

// Default returns a complete, valid configuration.
func Default() Config {
	return Config{
		Device:      "demo",
		TickHz:      1000,
		Heartbeat:   5 * time.Second,
		BusQueueLen: 64,
		MaxBatch:    32,
		Bridge: Bridge{
			Transport:   "none",
			RingSize:    4096,
			CommandRate: 100,
			Burst:       10,
		},
		LogLevel: "info",
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	fi, err := os.Stat(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if fi.Size() > MaxFileSize {
		return cfg, fmt.Errorf("config: %s is %d bytes, limit %d", path, fi.Size(), MaxFileSize)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over Default and validates the result. Unknown keys are
// rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n > 0 && n&(n-1) == 0
	})
	return v
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s%s", fe.Namespace(), fe.Tag(), paramSuffix(fe.Param())))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
