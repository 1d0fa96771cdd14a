package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cropscan/internal/app"
	"cropscan/internal/config"
	"cropscan/internal/service/archive"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Classify a directory of images and store the results",
	Long: `Walk a directory, classify every JPEG or PNG and store the predictions in the history
database. EXIF GPS positions are kept, images without one are stored unlocated.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := cliLogger(cmd)
	out := cmd.OutOrStdout()

	var files []string
	err := filepath.WalkDir(args[0], func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && archive.IsImageName(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", args[0])
	}

	classifiers, err := loadClassifiers(cfg, log)
	if err != nil {
		return err
	}
	pipeline, err := app.NewPipeline(cfg, log, nil, classifiers)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	fmt.Fprintf(out, "Importing %d image(s) from %s into %s\n", len(files), args[0], cfg.DatabasePath)

	var (
		imported, failed atomic.Int64
		outMu            sync.Mutex
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(2 * pipeline.Manager.Workers())

	for _, path := range files {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			result, err := pipeline.Manager.ClassifyImage(ctx, filepath.Base(path), data)
			if err != nil {
				failed.Add(1)
				log.Warning("Skipping %s: %v", path, err)
				return nil
			}
			imported.Add(1)
			if verbose {
				outMu.Lock()
				fmt.Fprintf(out, "%s: %s (%.2f)\n", path, result.Label, result.Confidence)
				outMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Imported %d image(s), %d failed\n", imported.Load(), failed.Load())
	return nil
}
