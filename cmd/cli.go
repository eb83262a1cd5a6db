// Package cmd parses the command line into a runnable invocation: which
// command to execute, the file it targets, and the merged configuration
// (defaults, then YAML, then flags).
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bhosie/chronoaudio/internal/config"
)

// Command identifies what main should run after parsing.
type Command string

const (
	CommandNone  Command = ""
	CommandPlay  Command = "play"
	CommandTempo Command = "tempo"
	CommandList  Command = "list"
)

// Options is the parsed invocation.
type Options struct {
	Config  *config.Config
	Command Command
	Path    string // audio file for play/tempo
}

// ParseArgs builds the CLI, executes it against os.Args and returns the
// resulting invocation. CommandNone means help was shown and there is
// nothing to run.
func ParseArgs() (*Options, error) {
	var cfgPath string
	opts := &Options{}

	rootCmd := &cobra.Command{
		Use:           "chronoaudio",
		Short:         "Loop-based practice player with tempo detection and a metronome",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Path to a YAML config file (default chronoaudio.yaml if present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false,
		"Show verbose output")

	playCmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Play an audio file with loop, rate and click controls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = CommandPlay
			opts.Path = args[0]
			return applyPlayFlags(cmd, opts.Config)
		},
	}
	playCmd.Flags().Float64P("rate", "r", config.DefaultRate,
		"Initial playback rate (0.25-1.0); pitch is preserved")
	playCmd.Flags().Float64("loop-in", 0,
		"Loop in point in seconds")
	playCmd.Flags().Float64("loop-out", 0,
		"Loop out point in seconds")
	playCmd.Flags().Float64("bpm", 0,
		"Metronome tempo; 0 uses the detected tempo")
	playCmd.Flags().Int("beat-unit", config.DefaultBeatUnit,
		"Metronome beat unit (4=quarter notes, 8=eighth notes)")
	playCmd.Flags().Bool("click", false,
		"Start the metronome immediately")
	playCmd.Flags().IntP("device", "d", config.DefaultOutputDevice,
		"Output device ID. Use 'list' to see available devices.")
	playCmd.Flags().Bool("serve", false,
		"Broadcast playback state over websocket")
	playCmd.Flags().String("serve-addr", "",
		"Websocket listen address (default :8090)")
	rootCmd.AddCommand(playCmd)

	tempoCmd := &cobra.Command{
		Use:   "tempo <file>",
		Short: "Estimate the tempo of an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = CommandTempo
			opts.Path = args[0]
			return nil
		},
	}
	rootCmd.AddCommand(tempoCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available output devices",
		Run: func(cmd *cobra.Command, args []string) {
			opts.Command = CommandList
		},
	}
	rootCmd.AddCommand(listCmd)

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if opts.Config == nil {
		// The built-in help flag short-circuits before PersistentPreRunE,
		// so no config was loaded. Help was shown; nothing to run.
		return opts, nil
	}

	if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
		opts.Config.LogLevel = "debug"
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// applyPlayFlags folds explicitly-set play flags over the loaded config,
// so YAML values survive unless the flag was given.
func applyPlayFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("rate") {
		cfg.Playback.Rate, _ = flags.GetFloat64("rate")
	}
	if flags.Changed("loop-in") || flags.Changed("loop-out") {
		cfg.Playback.LoopIn, _ = flags.GetFloat64("loop-in")
		cfg.Playback.LoopOut, _ = flags.GetFloat64("loop-out")
		cfg.Playback.LoopEnabled = true
	}
	if flags.Changed("bpm") {
		cfg.Click.BPM, _ = flags.GetFloat64("bpm")
	}
	if flags.Changed("beat-unit") {
		cfg.Click.BeatUnit, _ = flags.GetInt("beat-unit")
	}
	if flags.Changed("click") {
		cfg.Click.Enabled, _ = flags.GetBool("click")
	}
	if flags.Changed("device") {
		cfg.Audio.OutputDevice, _ = flags.GetInt("device")
	}
	if flags.Changed("serve") {
		cfg.Serve.Enabled, _ = flags.GetBool("serve")
	}
	if addr, _ := flags.GetString("serve-addr"); addr != "" {
		cfg.Serve.Addr = addr
	}
	return nil
}
