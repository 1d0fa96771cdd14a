package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cropscan/internal/app"
	"cropscan/internal/logger"
)

var verbose bool

// loadClassifiers opens the model sessions; replaced in tests.
var loadClassifiers = app.LoadClassifiers

var rootCmd = &cobra.Command{
	Use:   "cropctl",
	Short: "Offline tools for the crop health classifier",
	Long: `cropctl runs the crop health model outside the HTTP server: analyse a zip of geotagged
field photos, import a directory of images into the history database, print stored
statistics and hash the admin password. Configuration is read from the environment and .env.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline activity to stderr")
	rootCmd.AddCommand(analyzeCmd, importCmd, statsCmd, hashPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliLogger writes to stderr so stdout stays clean for JSON output.
func cliLogger(cmd *cobra.Command) *logger.Logger {
	if verbose {
		return logger.NewConsole(cmd.ErrOrStderr())
	}
	return logger.NewConsole(io.Discard)
}
