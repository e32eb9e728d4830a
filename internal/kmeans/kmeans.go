package kmeans

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/growseg/growseg/distance"
)

// Train learns k centroids from the given flat vectors using Lloyd's
// algorithm and returns them flattened (k * dim). Clustering always uses
// squared L2; cosine callers normalize their vectors first. Returns nil when
// there are fewer vectors than clusters.
func Train(ctx context.Context, vectors []float32, dim, k, maxIter int) ([]float32, error) {
	n := len(vectors) / dim
	if n < k {
		return nil, nil
	}

	centroids := make([]float32, k*dim)

	// Initialize centroids from random data points.
	perm := rand.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false

		// Assignment step.
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best := nearest(vec, centroids, dim, k)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		// Update step.
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed an empty cluster from a random point.
				idx := rand.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids, nil
}

func nearest(vec, centroids []float32, dim, k int) int {
	best := -1
	minDist := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		d := distance.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
		if d < minDist {
			minDist = d
			best = j
		}
	}
	return best
}

// Assign returns the index of the centroid closest to vec.
func Assign(vec, centroids []float32, dim int) int {
	return nearest(vec, centroids, dim, len(centroids)/dim)
}

type centroidDist struct {
	id   int
	dist float32
}

// NearestCentroids returns the indices of the n centroids closest to the
// query vector, nearest first.
func NearestCentroids(query, centroids []float32, dim, n int) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}

	dists := make([]centroidDist, k)
	for i := 0; i < k; i++ {
		dists[i] = centroidDist{id: i, dist: distance.SquaredL2(query, centroids[i*dim:(i+1)*dim])}
	}
	sort.Slice(dists, func(i, j int) bool {
		return dists[i].dist < dists[j].dist
	})

	result := make([]int, n)
	for i := 0; i < n; i++ {
		result[i] = dists[i].id
	}
	return result
}
