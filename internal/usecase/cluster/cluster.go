// Package cluster groups questions by embedding similarity to surface
// candidate FAQ entries from a question log.
package cluster

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/logger"
	"github.com/kailas-cloud/semcache/internal/retrieval"
)

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Cluster is a group of similar embeddings.
type Cluster struct {
	// Representative is the index of the first member.
	Representative int
	// Members are indexes into the input, in insertion order.
	Members []int
	// Centroid is the running mean of member embeddings.
	Centroid []float32
}

// Greedy assigns each embedding, in order, to the cluster whose centroid is
// strictly more similar than threshold, preferring the most similar; ties go
// to the older cluster. Unassigned embeddings open a new cluster. The result
// is sorted by size, largest first, keeping creation order among equals.
func Greedy(embeddings [][]float32, threshold float32) []Cluster {
	var clusters []Cluster
	for i, emb := range embeddings {
		best, bestSim := -1, threshold
		for ci := range clusters {
			if sim := retrieval.CosineSimilarity(emb, clusters[ci].Centroid); sim > bestSim {
				best, bestSim = ci, sim
			}
		}

		if best < 0 {
			clusters = append(clusters, Cluster{
				Representative: i,
				Members:        []int{i},
				Centroid:       slices.Clone(emb),
			})
			continue
		}

		c := &clusters[best]
		c.Members = append(c.Members, i)
		n := float32(len(c.Members))
		for j, v := range emb {
			c.Centroid[j] = c.Centroid[j]*((n-1)/n) + v/n
		}
	}

	slices.SortStableFunc(clusters, func(a, b Cluster) int {
		return cmp.Compare(len(b.Members), len(a.Members))
	})
	return clusters
}

// Downsample returns at most maxPoints evenly spaced indexes of [0, total).
func Downsample(total, maxPoints int) []int {
	if maxPoints <= 0 || total <= maxPoints {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	step := float64(total) / float64(maxPoints)
	idx := make([]int, maxPoints)
	for i := range idx {
		idx[i] = int(float64(i) * step)
	}
	return idx
}

// Service embeds questions and clusters them.
type Service struct {
	embed   Embedder
	workers int
}

// New creates a cluster service. workers <= 0 uses GOMAXPROCS.
func New(embed Embedder, workers int) *Service {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Service{embed: embed, workers: workers}
}

// Questions embeds questions concurrently and clusters them greedily.
func (s *Service) Questions(ctx context.Context, questions []string, threshold float32) ([]Cluster, error) {
	log := logger.FromContext(ctx)
	embeddings := make([][]float32, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range questions {
		g.Go(func() error {
			res, err := s.embed.Embed(gctx, questions[i])
			if err != nil {
				return fmt.Errorf("embed question %d: %w", i, err)
			}
			embeddings[i] = res.Embedding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}

	clusters := Greedy(embeddings, threshold)
	log.Info("Questions clustered",
		zap.Int("questions", len(questions)),
		zap.Int("clusters", len(clusters)),
		zap.Float32("threshold", threshold),
	)
	return clusters, nil
}
