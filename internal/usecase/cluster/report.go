package cluster

import (
	"fmt"
	"io"
	"time"
)

// Summary is one cluster in the JSON report.
type Summary struct {
	ClusterID              int      `json:"cluster_id"`
	Size                   int      `json:"size"`
	RepresentativeIndex    int      `json:"representative_index"`
	RepresentativeQuestion string   `json:"representative_question"`
	SampleQuestions        []string `json:"sample_questions"`
}

// Meta describes a clustering run.
type Meta struct {
	InputPath  string    `json:"input_path"`
	Threshold  float32   `json:"threshold"`
	PointCount int       `json:"point_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Report is the JSON summary of a clustering run.
type Report struct {
	Meta     Meta      `json:"meta"`
	Clusters []Summary `json:"clusters"`
}

// maxSamples bounds sample questions per cluster.
const maxSamples = 5

// BuildReport keeps clusters with at least minSize members, up to top of them
// (top <= 0 keeps all).
func BuildReport(meta Meta, rows []SquadRow, clusters []Cluster, minSize, top int) Report {
	r := Report{Meta: meta, Clusters: []Summary{}}
	for ci, c := range clusters {
		if len(c.Members) < minSize {
			continue
		}
		if top > 0 && len(r.Clusters) >= top {
			break
		}
		samples := make([]string, 0, min(len(c.Members), maxSamples))
		for _, m := range c.Members[:min(len(c.Members), maxSamples)] {
			samples = append(samples, rows[m].Question)
		}
		r.Clusters = append(r.Clusters, Summary{
			ClusterID:              ci,
			Size:                   len(c.Members),
			RepresentativeIndex:    c.Representative,
			RepresentativeQuestion: rows[c.Representative].Question,
			SampleQuestions:        samples,
		})
	}
	return r
}

// WriteText prints a human-readable report.
func WriteText(w io.Writer, r Report) error {
	if _, err := fmt.Fprintf(w, "%d points, threshold %.2f, %d clusters shown\n\n",
		r.Meta.PointCount, r.Meta.Threshold, len(r.Clusters)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, c := range r.Clusters {
		if _, err := fmt.Fprintf(w, "#%d (%d questions) %s\n", c.ClusterID, c.Size, c.RepresentativeQuestion); err != nil {
			return fmt.Errorf("write cluster %d: %w", c.ClusterID, err)
		}
		for _, q := range c.SampleQuestions[1:] {
			if _, err := fmt.Fprintf(w, "    - %s\n", q); err != nil {
				return fmt.Errorf("write cluster %d: %w", c.ClusterID, err)
			}
		}
	}
	return nil
}
