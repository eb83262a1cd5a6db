package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bhosie/chronoaudio/cmd"
	"github.com/bhosie/chronoaudio/internal/analysis"
	"github.com/bhosie/chronoaudio/internal/config"
	"github.com/bhosie/chronoaudio/internal/engine"
	applog "github.com/bhosie/chronoaudio/internal/log"
	"github.com/bhosie/chronoaudio/internal/track"
	"github.com/bhosie/chronoaudio/internal/transport"
	"github.com/bhosie/chronoaudio/internal/tui"
)

func main() {
	opts, err := cmd.ParseArgs()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if opts.Command == cmd.CommandNone {
		return
	}

	if level, ok := applog.ParseLevel(opts.Config.LogLevel); ok {
		applog.SetLevel(level)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(opts *cmd.Options) error {
	switch opts.Command {
	case cmd.CommandTempo:
		// Pure analysis; no audio device needed.
		return runTempo(opts.Config, opts.Path)

	case cmd.CommandList:
		if err := engine.Initialize(); err != nil {
			return err
		}
		defer engine.Terminate()
		return tui.StartDeviceListUI()

	case cmd.CommandPlay:
		if err := engine.Initialize(); err != nil {
			return err
		}
		defer engine.Terminate()
		return runPlay(opts.Config, opts.Path)
	}
	return nil
}

// runTempo decodes the file and prints its estimated tempo.
func runTempo(cfg *config.Config, path string) error {
	trk, err := track.Prepare(path)
	if err != nil {
		return err
	}
	applog.Infof("analyzing %s (%.2fs, %d Hz)", trk.Path, trk.Duration, trk.SampleRate)

	trk, err = trk.Decode()
	if err != nil {
		return err
	}

	estimator, err := analysis.NewEstimator(cfg.Analysis)
	if err != nil {
		return err
	}
	bpm, ok := estimator.Detect(trk.Samples(), float64(trk.SampleRate))
	if !ok {
		fmt.Println("tempo: inconclusive")
		return nil
	}
	fmt.Printf("tempo: %.1f BPM\n", bpm)
	return nil
}

// runPlay decodes the file, opens the render graph at the file's native
// sample rate and hands control to the transport UI. Shutdown happens on
// UI quit or a termination signal, whichever comes first.
func runPlay(cfg *config.Config, path string) error {
	trk, err := track.Prepare(path)
	if err != nil {
		return err
	}
	trk, err = trk.Decode()
	if err != nil {
		return err
	}

	graph, err := engine.NewGraph(cfg.Audio, float64(trk.SampleRate))
	if err != nil {
		return err
	}

	var trans transport.Transport
	if cfg.Serve.Enabled {
		trans = transport.NewWebSocketTransport(cfg.Serve.Addr)
	}

	eng, err := engine.NewEngine(cfg, graph, trans)
	if err != nil {
		graph.Close()
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			applog.Errorf("engine close: %v", err)
		}
		if trans != nil {
			if err := trans.Close(); err != nil {
				applog.Errorf("transport close: %v", err)
			}
		}
	}()

	if err := eng.Load(trk); err != nil {
		return err
	}
	if cfg.Playback.LoopEnabled {
		region := engine.NewLoopRegion(cfg.Playback.LoopIn, cfg.Playback.LoopOut, trk.Duration)
		if region == nil {
			return fmt.Errorf("loop region [%.2f, %.2f) is invalid for a %.2fs track",
				cfg.Playback.LoopIn, cfg.Playback.LoopOut, trk.Duration)
		}
		eng.EnableLoop(region)
	}

	eng.Play()
	if cfg.Click.Enabled && cfg.Click.BPM > 0 {
		eng.StartClick(cfg.Click.BPM)
	}

	// The UI owns the foreground; a signal shuts it down the same way a
	// quit keypress does.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	uiDone := make(chan error, 1)
	go func() { uiDone <- tui.StartPlayerUI(eng) }()

	select {
	case err := <-uiDone:
		return err
	case <-sigs:
		applog.Infof("shutting down")
		return nil
	}
}
