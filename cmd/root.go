package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiostream-go/cmd/cachecmd"
	"github.com/tphakala/audiostream-go/cmd/license"
	"github.com/tphakala/audiostream-go/cmd/play"
	"github.com/tphakala/audiostream-go/internal/buildinfo"
	"github.com/tphakala/audiostream-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "audiostream",
		Short:   "audiostream-go CLI",
		Version: buildinfo.ReleaseVersion(),
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	// Add sub-commands to the root command.
	subcommands := []*cobra.Command{
		play.Command(settings),
		cachecmd.Command(settings),
		license.Command(),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
