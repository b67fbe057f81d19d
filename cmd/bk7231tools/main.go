// Bk7231tools talks to BK7231 Wi-Fi microcontrollers over serial and picks
// apart the firmware images stored on them.
//
// It drives the bootloader ROM protocol to read and write flash, identifies
// the connected chip variant, and dissects flash dump files into their RBL
// firmware containers, decrypting code partitions where possible.
//
// Usage:
//
//	bk7231tools [command] [flags]
//
// See 'bk7231tools --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuya-cloudcutter/bk7231tools/internal/logging"
	"github.com/tuya-cloudcutter/bk7231tools/internal/version"
)

func main() {
	// Silent by default; set BK7231_LOG_LEVEL=debug for wire traces.
	_ = logging.InitializeFromEnv()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bk7231tools",
	Short: "BK7231 flashing and firmware dissection tools",
	Long: `Tools for working with BK7231 Wi-Fi microcontrollers.

Reads and writes device flash over the bootloader serial protocol,
identifies the connected chip variant, and dissects flash dumps into
their RBL firmware containers.`,
	Version: version.Version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bk7231tools %s\n", version.Full())
	},
}
