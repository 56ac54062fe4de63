package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/lectern/internal/indexer"
)

func indexCMD(cfgPath *string) *cobra.Command {
	var docsDir string
	var batchSize int
	var batchDelay time.Duration

	index := &cobra.Command{
		Use:   "index",
		Short: "Segment, embed and upsert the document corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			switch cfg.VectorIndex.Backend {
			case "memory":
				return fmt.Errorf("the memory backend lives inside the server; run `serve` instead")
			case "qdrant":
				q := a.qdrant()
				ok, err := q.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("collection %q does not exist; run `lectern collection` first", q.Collection())
				}
			}
			target, err := a.openIndex(ctx)
			if err != nil {
				return err
			}

			if docsDir == "" {
				docsDir = cfg.Indexing.DocsDir
			}
			if batchSize <= 0 {
				batchSize = cfg.Indexing.BatchSize
			}
			if !cmd.Flags().Changed("batch-delay") {
				batchDelay = cfg.Indexing.BatchDelay
			}
			log := a.logger
			p := indexer.New(a.segmenter(), a.embedder, target, indexer.Options{
				BatchSize:  batchSize,
				BatchDelay: batchDelay,
				Extensions: cfg.Indexing.Extensions,
				Logger:     &log,
				Observer:   a.metrics,
			})
			sum, err := p.Run(ctx, docsDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "files: %d\nchunks: %d\nindexed: %d\nfailed batches: %d\n",
				sum.Files, sum.Chunks, sum.Indexed, sum.FailedBatches)
			if sum.FailedBatches > 0 {
				return fmt.Errorf("%d batch(es) failed", sum.FailedBatches)
			}
			return nil
		},
	}
	index.Flags().StringVar(&docsDir, "docs", "", "documents root (overrides indexing.docs_dir)")
	index.Flags().IntVar(&batchSize, "batch-size", 0, "chunks per embed+upsert batch (overrides indexing.batch_size)")
	index.Flags().DurationVar(&batchDelay, "batch-delay", 0, "pause between batches (overrides indexing.batch_delay)")
	return index
}
