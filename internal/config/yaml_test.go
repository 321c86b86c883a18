// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/log"
	"timbre/internal/source"
	"timbre/internal/transport"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if *cfg != Default() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "audio: [unclosed\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: warn
audio:
  sample_rate: 48000
  input_channels: 2
analyser:
  fft_size: 1024
analysis:
  frame_rate: 30
  domain: unit
transport:
  udp_enabled: true
  udp_send_interval: 50ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Audio.SampleRate != 48000 || cfg.Audio.InputChannels != 2 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Analyser.FFTSize != 1024 || cfg.Analysis.FrameRate != 30 {
		t.Errorf("analyser/analysis = %+v / %+v", cfg.Analyser, cfg.Analysis)
	}
	if cfg.Domain() != analysis.UnitDomain {
		t.Errorf("Domain() = %v, want unit", cfg.Domain())
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPSendInterval != 50*time.Millisecond {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Level() != log.LevelWarn {
		t.Errorf("Level() = %v, want WARN", cfg.Level())
	}

	// Keys absent from the file keep their defaults.
	if cfg.Analyser.Smoothing != DefaultSmoothing || cfg.Audio.InputDevice != DefaultDeviceID {
		t.Errorf("defaults lost: smoothing %v, device %d", cfg.Analyser.Smoothing, cfg.Audio.InputDevice)
	}
	if cfg.Transport.WebSocketAddress != DefaultWebSocketAddress {
		t.Errorf("websocket address = %s, want default", cfg.Transport.WebSocketAddress)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "analyser:\n  fft_size: 1000\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !errors.Is(err, source.ErrNotPowerOfTwo) {
		t.Errorf("expected ErrNotPowerOfTwo in chain, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"Log Level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"Output Format", func(c *Config) { c.Format = "xml" }, "output_format"},
		{"Command", func(c *Config) { c.Command = "serve" }, "command"},
		{"Analyze Without File", func(c *Config) { c.Command = CommandAnalyze }, "input_file"},
		{"Negative Start", func(c *Config) { c.Start = -time.Second }, "start"},
		{"Device", func(c *Config) { c.Audio.InputDevice = -2 }, "audio.input_device"},
		{"Sample Rate Low", func(c *Config) { c.Audio.SampleRate = 4000 }, "audio.sample_rate"},
		{"Sample Rate High", func(c *Config) { c.Audio.SampleRate = 384000 }, "audio.sample_rate"},
		{"Frames Per Buffer", func(c *Config) { c.Audio.FramesPerBuffer = 0 }, "audio.frames_per_buffer"},
		{"Channels", func(c *Config) { c.Audio.InputChannels = 0 }, "audio.input_channels"},
		{"Gate", func(c *Config) { c.Audio.GateThreshold = 1.5 }, "audio.gate_threshold"},
		{"FFT Size", func(c *Config) { c.Analyser.FFTSize = 16 }, "analyser"},
		{"FFT Size Huge", func(c *Config) { c.Analyser.FFTSize = 65536 }, "analyser.fft_size"},
		{"Smoothing", func(c *Config) { c.Analyser.Smoothing = 1 }, "analyser"},
		{"Decibels", func(c *Config) { c.Analyser.MinDecibels = -20 }, "analyser"},
		{"Domain", func(c *Config) { c.Analysis.Domain = "volts" }, "analysis.domain"},
		{"Frame Rate", func(c *Config) { c.Analysis.FrameRate = 0 }, "analysis.frame_rate"},
		{"Bit Depth", func(c *Config) { c.Recording.Enabled = true; c.Recording.BitDepth = 8 }, "recording.bit_depth"},
		{"Recording Dir", func(c *Config) { c.Recording.Enabled = true; c.Recording.OutputDir = "" }, "recording.output_dir"},
		{"WebSocket Address", func(c *Config) { c.Transport.WebSocketAddress = "localhost" }, "transport.websocket_address"},
		{"UDP Address", func(c *Config) { c.Transport.UDPEnabled = true; c.Transport.UDPTargetAddress = "" }, "transport.udp_target_address"},
		{"Negative Interval", func(c *Config) { c.Transport.UDPSendInterval = -time.Second }, "intervals"},
	}

	base := Default()
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}

	// Disabled sinks are not checked.
	cfg := Default()
	cfg.Transport.WebSocketEnabled = false
	cfg.Transport.WebSocketAddress = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled websocket address should not be validated: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENV_SAMPLE_RATE", "48000")
	t.Setenv("ENV_FFT_SIZE", "4096")
	t.Setenv("ENV_DOMAIN", " unit ")
	t.Setenv("ENV_UDP_ENABLED", "true")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "10ms")
	t.Setenv("ENV_DEBUG", "not-a-bool")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Analyser.FFTSize != 4096 {
		t.Errorf("numeric overrides not applied: %+v %+v", cfg.Audio, cfg.Analyser)
	}
	if cfg.Domain() != analysis.UnitDomain {
		t.Errorf("Domain() = %v, want unit", cfg.Domain())
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPSendInterval != 10*time.Millisecond {
		t.Errorf("udp overrides not applied: %+v", cfg.Transport)
	}
	if cfg.Debug {
		t.Error("unparseable ENV_DEBUG should be ignored")
	}
}

func TestLevelAndAnalyserConfig(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if cfg.Level() != log.LevelInfo {
		t.Errorf("Level() = %v, want INFO", cfg.Level())
	}
	cfg.Debug = true
	if cfg.Level() != log.LevelDebug {
		t.Errorf("Level() with debug = %v, want DEBUG", cfg.Level())
	}

	ac := cfg.AnalyserConfig()
	want := source.AnalyserConfig{
		FFTSize:     DefaultFFTSize,
		SampleRate:  DefaultSampleRate,
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
		Domain:      analysis.ByteDomain,
	}
	if ac != want {
		t.Errorf("AnalyserConfig() = %+v, want %+v", ac, want)
	}
	if cfg.OutputFormat() != transport.JSONLines {
		t.Errorf("OutputFormat() = %s, want jsonl", cfg.OutputFormat())
	}
	cfg.Format = "msgpack"
	if cfg.OutputFormat() != transport.MsgPack {
		t.Errorf("OutputFormat() = %s, want msgpack", cfg.OutputFormat())
	}
}
