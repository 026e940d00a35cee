package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"localmedia/internal/core/ports"

	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera driver
	"github.com/spf13/cobra"
)

var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mediactl",
	Short: "Local capture stream controller with an HTTP control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfgFile)
	},
	SilenceUsage: true,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices visible to the configured source",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		requester, err := newRequester(cfg, nil)
		if err != nil {
			return err
		}
		return printDevices(cmd.OutOrStdout(), requester)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches configs/config.yaml, config.yaml)")
	rootCmd.AddCommand(devicesCmd, versionCmd)
}

func printDevices(out io.Writer, lister ports.DeviceLister) error {
	devices, err := lister.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
