// SPDX-License-Identifier: MIT
package config

import "time"

// Commands other than live capture.
const (
	CommandList    = "list"
	CommandDevices = "devices"
	CommandAnalyze = "analyze"
)

// Defaults and limits for every configurable value. LoadConfig starts from
// the defaults; Validate enforces the limits.
const (
	// Audio input
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultSampleRate      = 44100       // CD-quality audio
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultInputChannels   = 1           // Mono capture
	DefaultLowLatency      = false       // Standard latency mode
	DefaultGateEnabled     = true
	DefaultGateThreshold   = 0.001 // ~0.1% of full scale

	// Analyser emulation
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0

	// Analysis session
	DefaultFrameRate = 60.0   // One record per display frame
	DefaultDomain    = "byte" // Byte-valued analyser buffers

	// Recording
	DefaultRecordingEnabled = false
	DefaultRecordingDir     = "./recordings"
	DefaultRecordingDepth   = 16

	// Transport
	DefaultWebSocketEnabled  = true
	DefaultWebSocketAddress  = "127.0.0.1:8080"
	DefaultWebSocketInterval = 0 * time.Millisecond // Every frame
	DefaultUDPEnabled        = false
	DefaultUDPTargetAddress  = "127.0.0.1:9090"
	DefaultUDPSendInterval   = 33 * time.Millisecond // ~30Hz
	DefaultLogSinkEnabled    = false
	DefaultLogSinkInterval   = time.Second

	DefaultLogLevel     = "info"
	DefaultCommand      = "" // Live capture
	DefaultOutputFormat = "jsonl"
	DefaultHeadless     = false

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxChannels     = 32
	MinFFTSize      = 32
	MaxFFTSize      = 32768
	MaxFrameRate    = 1000.0
)
