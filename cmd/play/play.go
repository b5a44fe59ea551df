// Package play provides the play command: stream a URL to the audio device.
package play

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiostream-go/internal/cachestore"
	"github.com/tphakala/audiostream-go/internal/conf"
	"github.com/tphakala/audiostream-go/internal/observability"
	"github.com/tphakala/audiostream-go/internal/player"
)

// Command creates a new command for stream playback.
func Command(settings *conf.Settings) *cobra.Command {
	var volume float64
	var rate float64

	cmd := &cobra.Command{
		Use:   "play [url]",
		Short: "Play an audio stream URL",
		Long:  "Stream the given URL to the default audio device until it ends or Ctrl-C is pressed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(settings, args[0], volume, rate)
		},
	}

	cmd.Flags().Float64Var(&volume, "volume", 1.0, "Playback volume between 0.0 and 1.0")
	cmd.Flags().Float64Var(&rate, "rate", 1.0, "Playback rate between 0.5 and 2.0")
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the play command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().BoolVar(&settings.Stream.Cache.Enabled, "cache", viper.GetBool("stream.cache.enabled"), "Mirror the received stream to the disk cache")
	cmd.Flags().StringVar(&settings.Stream.Cache.Directory, "cachedir", viper.GetString("stream.cache.directory"), "Directory used for cached stream files")
	cmd.Flags().Int64Var(&settings.Stream.Cache.MaxSize, "cachesize", viper.GetInt64("stream.cache.maxsize"), "Maximum total size of the disk cache in bytes")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

func runPlay(settings *conf.Settings, url string, volume, rate float64) error {
	var metrics *observability.StreamMetrics
	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings.Telemetry.Listen)
		if err != nil {
			return fmt.Errorf("failed to start telemetry endpoint: %w", err)
		}
		endpoint.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = endpoint.Shutdown(ctx)
		}()
		metrics = endpoint.Metrics
	}

	var store *cachestore.Store
	if settings.Stream.Cache.Enabled {
		s, err := cachestore.New(settings.Stream.Cache.Directory, settings.Stream.Cache.MaxSize)
		if err != nil {
			return fmt.Errorf("failed to open stream cache: %w", err)
		}
		if metrics != nil {
			s.SetEvictionObserver(func(cachestore.Record) { metrics.CacheEvictions.Inc() })
		}
		store = s
	}

	stream := player.New(player.Options{
		Settings: &settings.Stream,
		Store:    store,
		Metrics:  metrics,
	})
	defer stream.Close()

	done := make(chan error, 1)
	stream.OnCompletion = func() {
		done <- nil
	}
	stream.OnFailure = func(kind player.StreamError, err error) {
		done <- fmt.Errorf("playback failed (%s): %w", kind, err)
	}
	stream.OnMetadata = func(md map[string]string) {
		if title := md["StreamTitle"]; title != "" {
			fmt.Printf("Now playing: %s\n", title)
		}
	}

	stream.SetVolume(volume)
	stream.SetPlayRate(rate)
	stream.PlayURL(url)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-done:
		return err
	case <-sigChan:
		stream.Stop()
		return nil
	}
}
