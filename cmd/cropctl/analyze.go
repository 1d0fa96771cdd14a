package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cropscan/internal/config"
	"cropscan/internal/service"
	"cropscan/internal/service/geotag"
)

var (
	analyzeOut      string
	analyzeMap      string
	analyzeFallback string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <archive.zip>",
	Short: "Classify every image of a zip archive",
	Long: `Classify the images of a zip archive without touching the database. Results are written
as JSON; with --map the scatter map of located predictions is saved as PNG.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "-", "JSON output file, - for stdout")
	analyzeCmd.Flags().StringVarP(&analyzeMap, "map", "m", "", "Write the scatter map PNG to this file")
	analyzeCmd.Flags().StringVar(&analyzeFallback, "fallback", "", "GPS fallback policy: skip, random or keep (default from GPS_FALLBACK)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if analyzeFallback != "" {
		cfg.GPSFallback = analyzeFallback
	}
	log := cliLogger(cmd)
	stderr := cmd.ErrOrStderr()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	classifiers, err := loadClassifiers(cfg, log)
	if err != nil {
		return err
	}
	manager, err := service.NewManager(classifiers, geotag.NewResolver(cfg.GPSFallback), nil, nil, nil, nil, cfg, log)
	if err != nil {
		return err
	}
	defer manager.Stop()

	response, err := manager.AnalyzeArchive(context.Background(), filepath.Base(args[0]), data, analyzeMap != "")
	if err != nil {
		return err
	}

	if analyzeMap != "" {
		if response.MapImage == "" {
			fmt.Fprintln(stderr, "No located predictions, map not written")
		} else {
			png, err := base64.StdEncoding.DecodeString(response.MapImage)
			if err != nil {
				return err
			}
			if err := os.WriteFile(analyzeMap, png, 0644); err != nil {
				return err
			}
			fmt.Fprintf(stderr, "Map written to %s\n", analyzeMap)
		}
		response.MapImage = ""
	}

	out := cmd.OutOrStdout()
	if analyzeOut != "-" {
		f, err := os.Create(analyzeOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(response); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "%d classified, %d skipped\n", len(response.Results), len(response.Skipped))
	return nil
}
