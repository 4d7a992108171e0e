package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/annexec/dataset"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with random values in range [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FloatData returns rows×dim uniform values in row-major order.
func (r *RNG) FloatData(rows, dim int) []float32 {
	data := make([]float32, rows*dim)
	r.FillUniform(data)
	return data
}

// BinaryData returns rows packed binary vectors of dimBits bits each.
func (r *RNG) BinaryData(rows, dimBits int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := make([]byte, rows*dimBits/8)
	for i := range data {
		data[i] = byte(r.rand.Intn(256))
	}
	return data
}

// ClusteredData generates rows×dim values clustered around random unit
// centroids with Gaussian noise of the given spread.
func (r *RNG) ClusteredData(rows, dim, clusters int, spread float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	centroids := make([]float32, clusters*dim)
	for c := 0; c < clusters; c++ {
		v := centroids[c*dim : (c+1)*dim]
		var norm float64
		for j := range v {
			v[j] = float32(r.rand.NormFloat64())
			norm += float64(v[j] * v[j])
		}
		inv := float32(1 / math.Sqrt(norm))
		for j := range v {
			v[j] *= inv
		}
	}

	data := make([]float32, rows*dim)
	for i := 0; i < rows; i++ {
		c := centroids[(i%clusters)*dim : (i%clusters+1)*dim]
		for j := 0; j < dim; j++ {
			data[i*dim+j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return data
}

// FloatDataset returns a uniform float dataset. It panics on invalid shapes.
func (r *RNG) FloatDataset(rows, dim int) *dataset.Dataset {
	ds, err := dataset.FromFloat32(rows, dim, r.FloatData(rows, dim))
	if err != nil {
		panic(err)
	}
	return ds
}

// BinaryDataset returns a random binary dataset. It panics on invalid shapes.
func (r *RNG) BinaryDataset(rows, dimBits int) *dataset.Dataset {
	ds, err := dataset.FromBinary(rows, dimBits, r.BinaryData(rows, dimBits))
	if err != nil {
		panic(err)
	}
	return ds
}

// MustFloat wraps data as a float dataset and panics on invalid shapes.
func MustFloat(rows, dim int, data []float32) *dataset.Dataset {
	ds, err := dataset.FromFloat32(rows, dim, data)
	if err != nil {
		panic(err)
	}
	return ds
}

// BruteForceL2 returns the ids of the k nearest rows of data to query under
// squared L2, nearest first. Ties break on the smaller id.
func BruteForceL2(data []float32, dim int, query []float32, k int) []int64 {
	type result struct {
		id   int64
		dist float32
	}

	rows := len(data) / dim
	results := make([]result, rows)
	for i := 0; i < rows; i++ {
		var d float32
		for j := 0; j < dim; j++ {
			diff := query[j] - data[i*dim+j]
			d += diff * diff
		}
		results[i] = result{id: int64(i), dist: d}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].dist != results[j].dist {
			return results[i].dist < results[j].dist
		}
		return results[i].id < results[j].id
	})

	if len(results) > k {
		results = results[:k]
	}
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.id
	}
	return out
}

// ComputeRecall computes recall@k by comparing approximate ids against
// ground truth.
func ComputeRecall(groundTruth, approximate []int64) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[int64]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i]] = struct{}{}
	}

	hits := 0
	for _, id := range approximate[:k] {
		if _, ok := truthSet[id]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
