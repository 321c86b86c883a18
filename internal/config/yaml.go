// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/log"
	"timbre/internal/source"
	"timbre/internal/transport"

	"gopkg.in/yaml.v3"
)

var cfgLog = log.For("Config")

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`                // Force debug logging.
	LogLevel  string          `yaml:"log_level"`            // "debug", "info", "warn" or "error".
	Command   string          `yaml:"command,omitempty"`    // One-off command instead of live capture (e.g. "list", "analyze").
	InputFile string          `yaml:"input_file,omitempty"` // WAV file for the analyze command.
	Start     time.Duration   `yaml:"start,omitempty"`      // Offset into input_file where analyze begins.
	Format    string          `yaml:"output_format"`        // "jsonl" or "msgpack" for analyze output.
	Headless  bool            `yaml:"headless"`             // Never start the terminal meter.
	Audio     AudioConfig     `yaml:"audio"`
	Analyser  AnalyserConfig  `yaml:"analyser"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig holds settings related to live audio input.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per PortAudio callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio.
	InputChannels   int     `yaml:"input_channels"`    // Channels captured; summed to mono before analysis.
	GateEnabled     bool    `yaml:"gate_enabled"`
	GateThreshold   float64 `yaml:"gate_threshold"` // 0.0-1.0 of full scale.
}

// AnalyserConfig shapes the spectrum and waveform buffers fed to analysis.
type AnalyserConfig struct {
	FFTSize     int     `yaml:"fft_size"`     // Power of two; bin count is half of it.
	Smoothing   float64 `yaml:"smoothing"`    // Temporal smoothing in [0,1).
	MinDecibels float64 `yaml:"min_decibels"` // Maps to spectrum value 0.
	MaxDecibels float64 `yaml:"max_decibels"` // Maps to full scale.
}

// AnalysisConfig holds per-session analysis settings.
type AnalysisConfig struct {
	FrameRate float64 `yaml:"frame_rate"` // Records per second.
	Domain    string  `yaml:"domain"`     // "byte" or "unit".
}

// RecordingConfig holds settings for capturing the analysed input to WAV.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	BitDepth  int    `yaml:"bit_depth"` // 16, 24 or 32.
}

// TransportConfig holds settings for the record sinks.
type TransportConfig struct {
	WebSocketEnabled  bool          `yaml:"websocket_enabled"`
	WebSocketAddress  string        `yaml:"websocket_address"`  // Listen address, e.g. "127.0.0.1:8080".
	WebSocketInterval time.Duration `yaml:"websocket_interval"` // Minimum time between broadcasts.
	UDPEnabled        bool          `yaml:"udp_enabled"`
	UDPTargetAddress  string        `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090".
	UDPSendInterval   time.Duration `yaml:"udp_send_interval"`  // Minimum time between packets.
	LogEnabled        bool          `yaml:"log_enabled"`
	LogInterval       time.Duration `yaml:"log_interval"` // Time between summaries.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Debug:    false,
		LogLevel: DefaultLogLevel,
		Command:  DefaultCommand,
		Format:   DefaultOutputFormat,
		Headless: DefaultHeadless,
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultInputChannels,
			GateEnabled:     DefaultGateEnabled,
			GateThreshold:   DefaultGateThreshold,
		},
		Analyser: AnalyserConfig{
			FFTSize:     DefaultFFTSize,
			Smoothing:   DefaultSmoothing,
			MinDecibels: DefaultMinDecibels,
			MaxDecibels: DefaultMaxDecibels,
		},
		Analysis: AnalysisConfig{
			FrameRate: DefaultFrameRate,
			Domain:    DefaultDomain,
		},
		Recording: RecordingConfig{
			Enabled:   DefaultRecordingEnabled,
			OutputDir: DefaultRecordingDir,
			BitDepth:  DefaultRecordingDepth,
		},
		Transport: TransportConfig{
			WebSocketEnabled:  DefaultWebSocketEnabled,
			WebSocketAddress:  DefaultWebSocketAddress,
			WebSocketInterval: DefaultWebSocketInterval,
			UDPEnabled:        DefaultUDPEnabled,
			UDPTargetAddress:  DefaultUDPTargetAddress,
			UDPSendInterval:   DefaultUDPSendInterval,
			LogEnabled:        DefaultLogSinkEnabled,
			LogInterval:       DefaultLogSinkInterval,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfgLog.Debugf("Loaded %s", path)
	}

	// Environment variables override the file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate reports every out-of-range value at once.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level '%s' is not a known level", c.LogLevel))
	}

	if _, err := transport.ParseFormat(c.Format); err != nil {
		errs = append(errs, fmt.Errorf("output_format: %w", err))
	}
	switch c.Command {
	case "", CommandList, CommandDevices, CommandAnalyze:
	default:
		errs = append(errs, fmt.Errorf("command '%s' is not a known command", c.Command))
	}
	if c.Command == CommandAnalyze && c.InputFile == "" {
		errs = append(errs, fmt.Errorf("input_file must be set for the analyze command"))
	}
	if c.Start < 0 {
		errs = append(errs, fmt.Errorf("start must not be negative, got %s", c.Start))
	}

	// Audio
	if c.Audio.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device must be >= %d, got %d", MinDeviceID, c.Audio.InputDevice))
	}
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be in [%d, %d], got %v", MinSampleRate, MaxSampleRate, c.Audio.SampleRate))
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be in [1, %d], got %d", MaxBufferFrames, c.Audio.FramesPerBuffer))
	}
	if c.Audio.InputChannels < 1 || c.Audio.InputChannels > MaxChannels {
		errs = append(errs, fmt.Errorf("audio.input_channels must be in [1, %d], got %d", MaxChannels, c.Audio.InputChannels))
	}
	if c.Audio.GateThreshold < 0 || c.Audio.GateThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.gate_threshold must be in [0, 1], got %v", c.Audio.GateThreshold))
	}

	// Analyser
	if c.Analyser.FFTSize > MaxFFTSize {
		errs = append(errs, fmt.Errorf("analyser.fft_size must be <= %d, got %d", MaxFFTSize, c.Analyser.FFTSize))
	}
	domain, err := analysis.ParseDomain(c.Analysis.Domain)
	if err != nil {
		errs = append(errs, fmt.Errorf("analysis.domain: %w", err))
	}
	ac := c.analyserConfig(domain)
	if err := ac.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analyser: %w", err))
	}

	// Analysis
	if !(c.Analysis.FrameRate > 0) || c.Analysis.FrameRate > MaxFrameRate {
		errs = append(errs, fmt.Errorf("analysis.frame_rate must be in (0, %v], got %v", MaxFrameRate, c.Analysis.FrameRate))
	}

	// Recording
	if c.Recording.Enabled {
		switch c.Recording.BitDepth {
		case 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("recording.bit_depth must be 16, 24 or 32, got %d", c.Recording.BitDepth))
		}
		if c.Recording.OutputDir == "" {
			errs = append(errs, fmt.Errorf("recording.output_dir must be set when recording is enabled"))
		}
	}

	// Transport
	if c.Transport.WebSocketEnabled {
		if err := checkHostPort(c.Transport.WebSocketAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.websocket_address: %w", err))
		}
	}
	if c.Transport.UDPEnabled {
		if err := checkHostPort(c.Transport.UDPTargetAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.udp_target_address: %w", err))
		}
	}
	if c.Transport.WebSocketInterval < 0 || c.Transport.UDPSendInterval < 0 || c.Transport.LogInterval < 0 {
		errs = append(errs, fmt.Errorf("transport intervals must not be negative"))
	}

	return errors.Join(errs...)
}

// OutputFormat returns the parsed analyze output format.
func (c *Config) OutputFormat() transport.Format {
	f, _ := transport.ParseFormat(c.Format)
	return f
}

// Level resolves the effective log level; Debug wins over LogLevel.
func (c *Config) Level() log.LogLevel {
	if c.Debug {
		return log.LevelDebug
	}
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

// Domain returns the parsed analysis domain. Validate has already rejected
// unknown names.
func (c *Config) Domain() analysis.Domain {
	d, _ := analysis.ParseDomain(c.Analysis.Domain)
	return d
}

// AnalyserConfig builds the analyser settings for the live input rate.
func (c *Config) AnalyserConfig() source.AnalyserConfig {
	return c.analyserConfig(c.Domain())
}

func (c *Config) analyserConfig(d analysis.Domain) source.AnalyserConfig {
	return source.AnalyserConfig{
		FFTSize:     c.Analyser.FFTSize,
		SampleRate:  c.Audio.SampleRate,
		Smoothing:   c.Analyser.Smoothing,
		MinDecibels: c.Analyser.MinDecibels,
		MaxDecibels: c.Analyser.MaxDecibels,
		Domain:      d,
	}
}

func checkHostPort(addr string) error {
	if addr == "" {
		return fmt.Errorf("address must be set")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("'%s' appears invalid: %w", addr, err)
	}
	return nil
}

// applyEnvOverrides reads ENV_* variables. Unparseable values are logged and
// ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.
	envBool("ENV_DEBUG", &c.Debug)
	envString("ENV_LOG_LEVEL", &c.LogLevel)
	envBool("ENV_HEADLESS", &c.Headless)

	// ENV_AUDIO_{...}
	envInt("ENV_INPUT_DEVICE", &c.Audio.InputDevice)
	envFloat("ENV_SAMPLE_RATE", &c.Audio.SampleRate)
	envInt("ENV_FRAMES_PER_BUFFER", &c.Audio.FramesPerBuffer)
	envInt("ENV_INPUT_CHANNELS", &c.Audio.InputChannels)

	// ENV_ANALYSER / ANALYSIS
	envInt("ENV_FFT_SIZE", &c.Analyser.FFTSize)
	envFloat("ENV_FRAME_RATE", &c.Analysis.FrameRate)
	envString("ENV_DOMAIN", &c.Analysis.Domain)

	// ENV_WS_{...} and ENV_UDP_{...}
	// These are specific to the transport layer.
	envBool("ENV_WS_ENABLED", &c.Transport.WebSocketEnabled)
	envString("ENV_WS_ADDRESS", &c.Transport.WebSocketAddress)
	envBool("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	envString("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	envDuration("ENV_UDP_SEND_INTERVAL", &c.Transport.UDPSendInterval)
}

func envString(key string, dst *string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(val)
		cfgLog.Infof("Overriding from %s: %s", key, *dst)
	}
}

func envBool(key string, dst *bool) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			cfgLog.Warnf("Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = b
		cfgLog.Infof("Overriding from %s: %v", key, b)
	}
}

func envInt(key string, dst *int) {
	if val, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			cfgLog.Warnf("Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = n
		cfgLog.Infof("Overriding from %s: %d", key, n)
	}
}

func envFloat(key string, dst *float64) {
	if val, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			cfgLog.Warnf("Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = f
		cfgLog.Infof("Overriding from %s: %v", key, f)
	}
}

func envDuration(key string, dst *time.Duration) {
	if val, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			cfgLog.Warnf("Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = d
		cfgLog.Infof("Overriding from %s: %s", key, d)
	}
}
