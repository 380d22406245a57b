package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openkg/toolagent/internal/batch"
)

var batchWorkers int

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Run extraction over every record of a file",
	Long: "Run NER over every line of a .txt file, writing token/label alignment\n" +
		"output, or AE over every row of a .csv file with txt, entity, and\n" +
		"attribute_value columns, appending an attribute column.",
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 4, "Concurrent requests")
}

func runBatch(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	outputDir := rt.cfg.OutputDir
	if outputDir == "" {
		outputDir = "output"
	}

	processor, err := batch.New(rt.agent, outputDir, batch.WithMaxWorkers(batchWorkers))
	if err != nil {
		return err
	}

	inputPath := args[0]
	var outputPath string
	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".txt":
		outputPath, err = processor.ProcessTextFile(ctx, inputPath)
	case ".csv":
		outputPath, err = processor.ProcessCSVFile(ctx, inputPath)
	default:
		return fmt.Errorf("unsupported input %s: want a .txt or .csv file", inputPath)
	}
	if err != nil {
		return err
	}

	fmt.Println(outputPath)
	return nil
}
