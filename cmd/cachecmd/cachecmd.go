// Package cachecmd provides commands for inspecting the on-disk stream cache.
package cachecmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream-go/internal/cachestore"
	"github.com/tphakala/audiostream-go/internal/conf"
)

// Command creates and returns the cache command with its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the on-disk stream cache",
	}

	cmd.AddCommand(listCommand(settings), clearCommand(settings))

	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}

			records := store.Records()
			if len(records) == 0 {
				fmt.Println("cache is empty")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("%s  %12s  %s  %s\n",
					rec.Key, formatBytes(rec.Size), rec.CompletedAt.Format("2006-01-02 15:04:05"), rec.ContentType)
			}
			fmt.Printf("total: %s in %d streams\n", formatBytes(store.TotalSize()), len(records))
			return nil
		},
	}
}

func clearCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}

			count := len(store.Records())
			store.Clear()
			fmt.Printf("removed %d cached streams\n", count)
			return nil
		},
	}
}

func openStore(settings *conf.Settings) (*cachestore.Store, error) {
	if settings.Stream.Cache.Directory == "" {
		return nil, fmt.Errorf("no cache directory configured, set stream.cache.directory")
	}
	return cachestore.New(settings.Stream.Cache.Directory, settings.Stream.Cache.MaxSize)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
