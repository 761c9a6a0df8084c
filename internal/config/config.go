package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete receiver configuration
type Config struct {
	Device    DeviceConfig    `yaml:"device" json:"device"`
	Stream    StreamConfig    `yaml:"stream" json:"stream"`
	Audio     AudioConfig     `yaml:"audio" json:"audio"`
	Recording RecordingConfig `yaml:"recording" json:"recording"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// DeviceConfig contains the phone's address and connection behaviour
type DeviceConfig struct {
	Host          string  `yaml:"host" json:"host"`
	StreamPort    int     `yaml:"stream_port" json:"stream_port"`
	AudioPort     int     `yaml:"audio_port" json:"audio_port"`
	DialTimeout   float64 `yaml:"dial_timeout" json:"dial_timeout"`       // seconds
	ReadTimeout   float64 `yaml:"read_timeout" json:"read_timeout"`       // seconds, 0 = none
	RetryDelay    float64 `yaml:"retry_delay" json:"retry_delay"`         // seconds
	MaxRetryDelay float64 `yaml:"max_retry_delay" json:"max_retry_delay"` // seconds
	MaxRetries    int     `yaml:"max_retries" json:"max_retries"`         // 0 = forever
}

// StreamConfig contains primary stream decoding and pacing parameters
type StreamConfig struct {
	Mode                  string `yaml:"mode" json:"mode"` // standard | ar
	Skip                  int    `yaml:"skip" json:"skip"`
	PreambleSize          int    `yaml:"preamble_size" json:"preamble_size"`
	MaxMessageSize        int    `yaml:"max_message_size" json:"max_message_size"`             // bytes, 0 = unlimited
	UnknownFramePolicy    string `yaml:"unknown_frame_policy" json:"unknown_frame_policy"`     // resync | reconnect
	MaxConsecutiveUnknown int    `yaml:"max_consecutive_unknown" json:"max_consecutive_unknown"` // 0 = never drop
}

// AudioConfig contains side channel parameters
type AudioConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	PreambleSize      int     `yaml:"preamble_size" json:"preamble_size"`
	SampleRate        int     `yaml:"sample_rate" json:"sample_rate"`
	Channels          int     `yaml:"channels" json:"channels"`                     // interleaved, drives playback and WAV output
	Output            string  `yaml:"output" json:"output"`                         // WAV file path, empty = none
	ActivityThreshold float64 `yaml:"activity_threshold" json:"activity_threshold"` // RMS fraction of full scale
}

// RecordingConfig controls sample recording
type RecordingConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Path         string `yaml:"path" json:"path"`
	StartAfter   int    `yaml:"start_after" json:"start_after"` // samples
	Every        int    `yaml:"every" json:"every"`
	Limit        int    `yaml:"limit" json:"limit"`             // records, 0 = unlimited
	Compression  string `yaml:"compression" json:"compression"` // zstd | lz4 | none
	StopWhenDone bool   `yaml:"stop_when_done" json:"stop_when_done"`
}

// RedisConfig controls publishing of the latest samples
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Address   string `yaml:"address" json:"address"`
	Password  string `yaml:"password" json:"password,omitempty"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	TTL       int    `yaml:"ttl" json:"ttl"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration used when a file leaves a value unset
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Host:          "localhost",
			StreamPort:    10001,
			AudioPort:     10002,
			DialTimeout:   5.0,
			ReadTimeout:   0,
			RetryDelay:    1.0,
			MaxRetryDelay: 30.0,
			MaxRetries:    0,
		},
		Stream: StreamConfig{
			Mode:                  "standard",
			Skip:                  3,
			PreambleSize:          375,
			MaxMessageSize:        16 << 20,
			UnknownFramePolicy:    "resync",
			MaxConsecutiveUnknown: 16,
		},
		Audio: AudioConfig{
			Enabled:           false,
			PreambleSize:      375,
			SampleRate:        44100,
			Channels:          1,
			ActivityThreshold: 0.02,
		},
		Recording: RecordingConfig{
			Enabled:      false,
			Path:         "recordings/samples.rec",
			StartAfter:   100,
			Every:        10,
			Limit:        11,
			Compression:  "zstd",
			StopWhenDone: true,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Address:   "localhost:6379",
			KeyPrefix: "ray",
			TTL:       10,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file on top of Default and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Sanitized returns a copy safe to expose over the status API
func (c *Config) Sanitized() Config {
	out := *c
	if out.Redis.Password != "" {
		out.Redis.Password = "***"
	}
	return out
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if d.StreamPort < 1 || d.StreamPort > 65535 {
		return fmt.Errorf("stream_port must be between 1 and 65535, got %d", d.StreamPort)
	}

	if d.AudioPort < 1 || d.AudioPort > 65535 {
		return fmt.Errorf("audio_port must be between 1 and 65535, got %d", d.AudioPort)
	}

	if d.DialTimeout < 0 {
		return fmt.Errorf("dial_timeout cannot be negative, got %f", d.DialTimeout)
	}

	if d.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout cannot be negative, got %f", d.ReadTimeout)
	}

	if d.RetryDelay <= 0 {
		return fmt.Errorf("retry_delay must be positive, got %f", d.RetryDelay)
	}

	if d.MaxRetryDelay < d.RetryDelay {
		return fmt.Errorf("max_retry_delay (%f) must be at least retry_delay (%f)", d.MaxRetryDelay, d.RetryDelay)
	}

	if d.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", d.MaxRetries)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	validModes := map[string]bool{"standard": true, "ar": true}
	if !validModes[s.Mode] {
		return fmt.Errorf("mode must be 'standard' or 'ar', got '%s'", s.Mode)
	}

	if s.Skip < 0 {
		return fmt.Errorf("skip cannot be negative, got %d", s.Skip)
	}

	if s.PreambleSize < 0 {
		return fmt.Errorf("preamble_size cannot be negative, got %d", s.PreambleSize)
	}

	if s.MaxMessageSize < 0 {
		return fmt.Errorf("max_message_size cannot be negative, got %d", s.MaxMessageSize)
	}

	validPolicies := map[string]bool{"resync": true, "reconnect": true}
	if !validPolicies[s.UnknownFramePolicy] {
		return fmt.Errorf("unknown_frame_policy must be 'resync' or 'reconnect', got '%s'", s.UnknownFramePolicy)
	}

	if s.MaxConsecutiveUnknown < 0 {
		return fmt.Errorf("max_consecutive_unknown cannot be negative, got %d", s.MaxConsecutiveUnknown)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.PreambleSize < 0 {
		return fmt.Errorf("preamble_size cannot be negative, got %d", a.PreambleSize)
	}

	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", a.Channels)
	}

	if a.ActivityThreshold < 0 || a.ActivityThreshold > 1 {
		return fmt.Errorf("activity_threshold must be between 0 and 1, got %f", a.ActivityThreshold)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Path == "" {
		return fmt.Errorf("path cannot be empty when recording is enabled")
	}

	if r.StartAfter < 0 {
		return fmt.Errorf("start_after cannot be negative, got %d", r.StartAfter)
	}

	if r.Every < 1 {
		return fmt.Errorf("every must be at least 1, got %d", r.Every)
	}

	if r.Limit < 0 {
		return fmt.Errorf("limit cannot be negative, got %d", r.Limit)
	}

	validCompression := map[string]bool{"zstd": true, "lz4": true, "none": true}
	if !validCompression[r.Compression] {
		return fmt.Errorf("compression must be one of [zstd, lz4, none], got '%s'", r.Compression)
	}

	return nil
}

// Validate validates Redis configuration
func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Address == "" {
		return fmt.Errorf("address cannot be empty when redis is enabled")
	}

	if r.DB < 0 {
		return fmt.Errorf("db cannot be negative, got %d", r.DB)
	}

	if r.KeyPrefix == "" {
		return fmt.Errorf("key_prefix cannot be empty")
	}

	if r.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative, got %d", r.TTL)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// StreamAddress returns host:port of the primary stream
func (d *DeviceConfig) StreamAddress() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.StreamPort))
}

// AudioAddress returns host:port of the audio side channel
func (d *DeviceConfig) AudioAddress() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.AudioPort))
}

// GetDialTimeoutDuration returns the dial timeout as a time.Duration
func (d *DeviceConfig) GetDialTimeoutDuration() time.Duration {
	return seconds(d.DialTimeout)
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (d *DeviceConfig) GetReadTimeoutDuration() time.Duration {
	return seconds(d.ReadTimeout)
}

// GetRetryDelayDuration returns the initial reconnect delay as a time.Duration
func (d *DeviceConfig) GetRetryDelayDuration() time.Duration {
	return seconds(d.RetryDelay)
}

// GetMaxRetryDelayDuration returns the reconnect delay cap as a time.Duration
func (d *DeviceConfig) GetMaxRetryDelayDuration() time.Duration {
	return seconds(d.MaxRetryDelay)
}

// GetTTLDuration returns the key TTL as a time.Duration
func (r *RedisConfig) GetTTLDuration() time.Duration {
	return time.Duration(r.TTL) * time.Second
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
