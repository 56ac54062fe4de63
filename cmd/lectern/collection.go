package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func collectionCMD(cfgPath *string) *cobra.Command {
	var recreate, verify bool

	collection := &cobra.Command{
		Use:   "collection",
		Short: "Create the Qdrant collection and its payload indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.VectorIndex.Backend != "qdrant" {
				return fmt.Errorf("collection management applies to the qdrant backend, not %q", a.cfg.VectorIndex.Backend)
			}
			q := a.qdrant()
			out := cmd.OutOrStdout()

			if !verify {
				created, err := q.EnsureCollection(ctx, a.embedder.Dimension(), recreate)
				if err != nil {
					return err
				}
				if created {
					if err := q.CreatePayloadIndexes(ctx); err != nil {
						return err
					}
					fmt.Fprintf(out, "created collection %s (dim=%d, cosine)\n", q.Collection(), a.embedder.Dimension())
				} else {
					fmt.Fprintf(out, "collection %s already exists\n", q.Collection())
				}
			}

			info, err := q.Info(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "status: %s\npoints: %d\nvector size: %d\ndistance: %s\n",
				info.Status, info.PointsCount, info.VectorSize, info.Distance)
			if info.VectorSize != a.embedder.Dimension() {
				return fmt.Errorf("collection vector size %d does not match embedding dimension %d", info.VectorSize, a.embedder.Dimension())
			}
			return nil
		},
	}
	collection.Flags().BoolVar(&recreate, "recreate", false, "drop and recreate the collection")
	collection.Flags().BoolVar(&verify, "verify", false, "only report collection status")
	return collection
}
