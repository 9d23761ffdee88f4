// Package main is the entry point for the remotedbg debug engine.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dshills/remotedbg/internal/diag"
	"github.com/dshills/remotedbg/internal/hostcfg"
	"github.com/dshills/remotedbg/internal/remote"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()
	sink := diag.New(opts.Verbose)

	cfg, err := hostcfg.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load host config: %v\n", err)
		return 1
	}

	d := newDriver(driverOptions{
		Config:  cfg,
		Manager: remote.NewManager(sink),
		Sink:    sink,
		In:      os.Stdin,
		Out:     os.Stdout,
	})

	// Reload host entries and path mappings when the config file changes.
	if opts.ConfigPath != "" {
		watcher, werr := hostcfg.NewWatcher(opts.ConfigPath, sink)
		if werr != nil {
			sink.Warnf("config watch disabled: %v", werr)
		} else {
			defer watcher.Close()
			go func() {
				for fresh := range watcher.Reloads() {
					d.SetConfig(fresh)
					sink.Infof("host config reloaded")
				}
			}()
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		d.Shutdown()
	}()

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type options struct {
	ConfigPath string
	Verbose    bool
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", defaultConfigPath(), "Path to host configuration file")
	flag.StringVar(&opts.ConfigPath, "c", defaultConfigPath(), "Path to host configuration file (shorthand)")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose diagnostics")
	flag.BoolVar(&opts.Verbose, "v", false, "Enable verbose diagnostics (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "remotedbg - remote GDB/MI debug engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: remotedbg [options]\n\n")
		fmt.Fprintf(os.Stderr, "Requests are read as JSON lines on stdin; events and\n")
		fmt.Fprintf(os.Stderr, "responses are written as JSON lines on stdout.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("remotedbg %s (%s)\n", version, commit)
		os.Exit(0)
	}
	return opts
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "remotedbg", "hosts.toml")
}
