package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/tphakala/audiostream-go/cmd"
	"github.com/tphakala/audiostream-go/internal/conf"
	"github.com/tphakala/audiostream-go/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		log.Fatalf("error loading settings: %v", err)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	if settings.Main.Log.Enabled {
		closeLog, err := logging.InitFile(settings.Main.Log.Path, level)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer func() { _ = closeLog() }()
	} else {
		logging.Init(level)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
