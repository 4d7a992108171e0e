package backend

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	kmeansIterations = 20
	kmeansSeed       = 1234
)

// trainKMeans clusters n dim-dimensional vectors into k centroids with
// Lloyd's algorithm under squared L2. The seed is fixed so that training is
// reproducible. Returns the flattened centroids (k*dim).
func trainKMeans(ctx context.Context, x []float32, n, dim, k int) ([]float32, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: cluster count must be positive, got %d", ErrInvalidArgument, k)
	}
	if n < k {
		return nil, fmt.Errorf("%w: %d training points for %d clusters", ErrInvalidArgument, n, k)
	}

	rng := rand.New(rand.NewSource(kmeansSeed))
	centroids := make([]float32, k*dim)
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], x[perm[i]*dim:(perm[i]+1)*dim])
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < kmeansIterations; iter++ {
		changed := make([]bool, n)
		err := parallelFor(ctx, n, func(i int) error {
			c := nearestCentroid(x[i*dim:(i+1)*dim], centroids, dim)
			if c != assign[i] {
				assign[i] = c
				changed[i] = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		moved := false
		for _, c := range changed {
			if c {
				moved = true
				break
			}
		}
		if !moved {
			break
		}

		clear(sums)
		clear(counts)
		for i := 0; i < n; i++ {
			c := assign[i]
			v := x[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[c*dim+d] += v[d]
			}
			counts[c]++
		}
		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				// Reseed empty clusters from a random point.
				p := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], x[p*dim:(p+1)*dim])
				continue
			}
			scale := 1 / float32(counts[j])
			for d := 0; d < dim; d++ {
				centroids[j*dim+d] = sums[j*dim+d] * scale
			}
		}
	}
	return centroids, nil
}

// nearestCentroid returns the index of the centroid closest to v under
// squared L2.
func nearestCentroid(v, centroids []float32, dim int) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for j := 0; j*dim < len(centroids); j++ {
		if d := squaredL2(v, centroids[j*dim:(j+1)*dim]); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

// closestCentroids returns the indices of the n centroids closest to q.
func closestCentroids(q, centroids []float32, dim, n int) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}
	order := make([]neighbor, k)
	for j := 0; j < k; j++ {
		order[j] = neighbor{id: int64(j), score: squaredL2(q, centroids[j*dim:(j+1)*dim])}
	}
	sort.Slice(order, func(a, b int) bool {
		if order[a].score != order[b].score {
			return order[a].score < order[b].score
		}
		return order[a].id < order[b].id
	})
	out := make([]int, n)
	for i := range out {
		out[i] = int(order[i].id)
	}
	return out
}
