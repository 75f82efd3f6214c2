package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"lanmeet/server/internal/conf"
	"lanmeet/server/internal/server"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	if RunCLI(os.Args[1:]) {
		return
	}

	flagCfg := conf.Default()
	configPath := pflag.String("config", "", "YAML configuration file (flags override it)")
	debug := pflag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	pflag.StringVar(&flagCfg.BindAddr, "bind", flagCfg.BindAddr, "Interface the conference endpoints bind to")
	pflag.IntVar(&flagCfg.ControlPort, "control-port", flagCfg.ControlPort, "Control endpoint port (TCP)")
	pflag.IntVar(&flagCfg.VideoPort, "video-port", flagCfg.VideoPort, "Video endpoint port (UDP)")
	pflag.IntVar(&flagCfg.AudioPort, "audio-port", flagCfg.AudioPort, "Audio endpoint port (UDP)")
	pflag.IntVar(&flagCfg.ScreenCtrlPort, "screen-control-port", flagCfg.ScreenCtrlPort, "Screen-control endpoint port (TCP)")
	pflag.IntVar(&flagCfg.ScreenDataPort, "screen-data-port", flagCfg.ScreenDataPort, "Screen-data endpoint port (UDP)")
	pflag.IntVar(&flagCfg.FilePort, "file-port", flagCfg.FilePort, "File-transfer endpoint port (TCP)")
	pflag.StringVar(&flagCfg.APIAddr, "api-addr", flagCfg.APIAddr, "Status API listen address (empty disables it)")
	pflag.IntVar(&flagCfg.MaxUsers, "max-users", flagCfg.MaxUsers, "Participant cap")
	pflag.Int64Var(&flagCfg.MaxFileSize, "max-file-size", flagCfg.MaxFileSize, "Largest accepted upload in bytes")
	pflag.Parse()

	// Auto-enable debug logging for dev builds; override with --debug.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := conf.Default()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
	}
	applyFlagOverrides(&cfg, flagCfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	slog.Info("starting server", "version", Version, "bind", cfg.BindAddr)

	srv := server.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// applyFlagOverrides copies every explicitly-set flag value onto cfg, so
// command-line flags win over the config file.
func applyFlagOverrides(cfg *conf.Config, flagCfg conf.Config) {
	overrides := map[string]func(){
		"bind":                func() { cfg.BindAddr = flagCfg.BindAddr },
		"control-port":        func() { cfg.ControlPort = flagCfg.ControlPort },
		"video-port":          func() { cfg.VideoPort = flagCfg.VideoPort },
		"audio-port":          func() { cfg.AudioPort = flagCfg.AudioPort },
		"screen-control-port": func() { cfg.ScreenCtrlPort = flagCfg.ScreenCtrlPort },
		"screen-data-port":    func() { cfg.ScreenDataPort = flagCfg.ScreenDataPort },
		"file-port":           func() { cfg.FilePort = flagCfg.FilePort },
		"api-addr":            func() { cfg.APIAddr = flagCfg.APIAddr },
		"max-users":           func() { cfg.MaxUsers = flagCfg.MaxUsers },
		"max-file-size":       func() { cfg.MaxFileSize = flagCfg.MaxFileSize },
	}
	pflag.Visit(func(f *pflag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})
}
