// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"time"

	"timbre/internal/config"
	"timbre/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagValues holds every command line override. A value is only applied to
// the loaded configuration when its flag was given explicitly.
type flagValues struct {
	configPath string

	// Audio Device Configuration
	device          int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	gate            float64

	// Analysis Configuration
	fftSize   int
	frameRate float64
	domain    string

	// Recording Configuration
	record    bool
	outputDir string
	bitDepth  int

	// Transport Configuration
	wsAddress string
	noWS      bool
	udpTarget string
	logSink   bool

	// Output Configuration
	format   string
	start    time.Duration
	headless bool
	logLevel string
	verbose  bool
}

func (f *flagValues) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.configPath, "config", "",
		"Path to a YAML configuration file (default ./config.yaml if present)")

	flags.IntVarP(&f.device, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.IntVarP(&f.channels, "channels", "c", config.DefaultInputChannels,
		"Number of channels to capture; they are mixed to mono for analysis")
	flags.Float64VarP(&f.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&f.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	flags.BoolVarP(&f.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use low latency mode for real-time processing")
	flags.Float64Var(&f.gate, "gate", config.DefaultGateThreshold,
		"Noise gate threshold as a fraction of full scale (0 disables)")

	flags.IntVar(&f.fftSize, "fft-size", config.DefaultFFTSize,
		"Analyser FFT size (power of two); the spectrum has half as many bins")
	flags.Float64VarP(&f.frameRate, "frame-rate", "f", config.DefaultFrameRate,
		"Feature records produced per second")
	flags.StringVar(&f.domain, "domain", config.DefaultDomain,
		"Analyser value domain: 'byte' (0-255) or 'unit' (0-1)")

	flags.BoolVarP(&f.record, "record", "r", config.DefaultRecordingEnabled,
		"Record audio from the input device while analysing")
	flags.StringVarP(&f.outputDir, "output-dir", "o", config.DefaultRecordingDir,
		"Directory for recordings, named timbre-YYYYMMDD-HHMMSS.wav")
	flags.IntVar(&f.bitDepth, "bit-depth", config.DefaultRecordingDepth,
		"Recording bit depth (16, 24 or 32)")

	flags.StringVar(&f.wsAddress, "ws", config.DefaultWebSocketAddress,
		"WebSocket listen address for feature broadcasts")
	flags.BoolVar(&f.noWS, "no-ws", false,
		"Disable the WebSocket broadcast")
	flags.StringVar(&f.udpTarget, "udp", "",
		"Send binary feature packets to this UDP address")
	flags.BoolVar(&f.logSink, "log-features", config.DefaultLogSinkEnabled,
		"Log a feature summary every second")

	flags.BoolVar(&f.headless, "headless", config.DefaultHeadless,
		"Never start the terminal meter")
	flags.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel,
		"Log level: debug, info, warn or error")
	flags.BoolVarP(&f.verbose, "verbose", "v", false,
		"Show verbose output (same as --log-level debug)")
}

// apply copies explicitly set flags over cfg.
func (f *flagValues) apply(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if flags.Changed(name) {
			fn()
		}
	}

	set("device", func() { cfg.Audio.InputDevice = f.device })
	set("channels", func() { cfg.Audio.InputChannels = f.channels })
	set("sample-rate", func() { cfg.Audio.SampleRate = f.sampleRate })
	set("frames-per-buffer", func() { cfg.Audio.FramesPerBuffer = f.framesPerBuffer })
	set("low-latency", func() { cfg.Audio.LowLatency = f.lowLatency })
	set("gate", func() {
		cfg.Audio.GateThreshold = f.gate
		cfg.Audio.GateEnabled = f.gate > 0
	})

	set("fft-size", func() { cfg.Analyser.FFTSize = f.fftSize })
	set("frame-rate", func() { cfg.Analysis.FrameRate = f.frameRate })
	set("domain", func() { cfg.Analysis.Domain = f.domain })

	set("record", func() { cfg.Recording.Enabled = f.record })
	set("output-dir", func() { cfg.Recording.OutputDir = f.outputDir })
	set("bit-depth", func() { cfg.Recording.BitDepth = f.bitDepth })

	set("ws", func() {
		cfg.Transport.WebSocketAddress = f.wsAddress
		cfg.Transport.WebSocketEnabled = true
	})
	set("no-ws", func() { cfg.Transport.WebSocketEnabled = !f.noWS })
	set("udp", func() {
		cfg.Transport.UDPTargetAddress = f.udpTarget
		cfg.Transport.UDPEnabled = f.udpTarget != ""
	})
	set("log-features", func() { cfg.Transport.LogEnabled = f.logSink })

	set("format", func() { cfg.Format = f.format })
	set("start", func() { cfg.Start = f.start })
	set("headless", func() { cfg.Headless = f.headless })
	set("log-level", func() { cfg.LogLevel = f.logLevel })
	set("verbose", func() { cfg.Debug = f.verbose })
}

// ParseArgs builds the configuration for one invocation: the YAML file (or
// defaults), then environment overrides, then flags. It returns a nil
// configuration when only help or version information was printed.
func ParseArgs(args []string, out io.Writer) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	var (
		flags  flagValues
		loaded *config.Config
		result *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Long:          buildInfo.Description + "\n\nWithout a command, captures live input and streams feature records.",
		Version:       buildInfo.Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(flags.configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd.Flags(), cfg)
			loaded = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			result = loaded
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	flags.register(rootCmd.PersistentFlags())

	// List command
	rootCmd.AddCommand(&cobra.Command{
		Use:   config.CommandList,
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded.Command = config.CommandList
			result = loaded
			return nil
		},
	})

	// Devices command
	rootCmd.AddCommand(&cobra.Command{
		Use:   config.CommandDevices,
		Short: "Pick an input device interactively, then start live capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded.Command = config.CommandDevices
			result = loaded
			return nil
		},
	})

	// Analyze command
	analyzeCmd := &cobra.Command{
		Use:   config.CommandAnalyze + " FILE",
		Short: "Analyse a WAV file and write one feature record per frame to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded.Command = config.CommandAnalyze
			loaded.InputFile = args[0]
			result = loaded
			return nil
		},
	}
	analyzeCmd.Flags().StringVar(&flags.format, "format", config.DefaultOutputFormat,
		"Output format: 'jsonl' or 'msgpack'")
	analyzeCmd.Flags().DurationVar(&flags.start, "start", 0,
		"Seek to this offset (e.g. 1m30s) before analysing")
	rootCmd.AddCommand(analyzeCmd)

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildInfo.String())
		},
	})

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	// Flags can move values out of range.
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return result, nil
}
