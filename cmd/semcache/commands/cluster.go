package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	clusteruc "github.com/kailas-cloud/semcache/internal/usecase/cluster"
)

// NewClusterCmd creates the cluster command.
func NewClusterCmd(opts *globalOptions) *cobra.Command {
	var (
		input, jsonOut       string
		threshold            float32
		minSize, top, points int
	)

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Group similar questions of a SQuAD parquet file",
		Long: `Embed the questions of a SQuAD-v2 parquet file and group them greedily by
cosine similarity to running cluster centroids. Prints the largest clusters and
optionally writes a JSON summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			all, err := clusteruc.ReadSquad(input)
			if err != nil {
				return err //nolint:wrapcheck // names the file
			}
			idx := clusteruc.Downsample(len(all), points)
			rows := make([]clusteruc.SquadRow, len(idx))
			questions := make([]string, len(idx))
			for i, j := range idx {
				rows[i] = all[j]
				questions[i] = all[j].Question
			}

			s, err := e.openStack()
			if err != nil {
				return err
			}
			defer s.Close()

			clusters, err := clusteruc.New(s.Embedder, e.cfg.Index.Workers).Questions(e.ctx, questions, threshold)
			if err != nil {
				return err //nolint:wrapcheck // already wrapped by the service
			}

			report := clusteruc.BuildReport(clusteruc.Meta{
				InputPath:  input,
				Threshold:  threshold,
				PointCount: len(rows),
				Timestamp:  time.Now().UTC(),
			}, rows, clusters, minSize, top)

			if err := clusteruc.WriteText(cmd.OutOrStdout(), report); err != nil {
				return err //nolint:wrapcheck // stdout
			}
			if jsonOut == "" {
				return nil
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			if err := os.WriteFile(jsonOut, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", jsonOut, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "SQuAD-v2 parquet file")
	cmd.Flags().Float32Var(&threshold, "threshold", 0.8, "Cosine similarity needed to join a cluster")
	cmd.Flags().IntVar(&minSize, "min-size", 2, "Smallest cluster to report")
	cmd.Flags().IntVar(&top, "top", 50, "Largest clusters to report (0 = all)")
	cmd.Flags().IntVar(&points, "max-points", 0, "Evenly downsample to at most this many questions (0 = all)")
	cmd.Flags().StringVar(&jsonOut, "json-out", "", "Write the JSON summary to this file")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
