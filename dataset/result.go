package dataset

// Result holds fixed-k search output. Row i occupies IDs[i*K:(i+1)*K] and
// Distances[i*K:(i+1)*K]. Missing neighbors are reported with id -1.
type Result struct {
	Rows      int
	K         int
	IDs       []int64
	Distances []float32
}

// NewResult allocates a result for rows queries of k neighbors each.
func NewResult(rows, k int) *Result {
	return &Result{
		Rows:      rows,
		K:         k,
		IDs:       make([]int64, rows*k),
		Distances: make([]float32, rows*k),
	}
}

// Row returns the ids and distances of query i.
func (r *Result) Row(i int) ([]int64, []float32) {
	lo, hi := i*r.K, (i+1)*r.K
	return r.IDs[lo:hi], r.Distances[lo:hi]
}

// RangeResult holds range-search output. Query i's hits are
// IDs[Offsets[i]:Offsets[i+1]]; len(Offsets) == Rows+1 and Offsets[0] == 0.
type RangeResult struct {
	Rows      int
	IDs       []int64
	Distances []float32
	Offsets   []int
}

// Row returns the hits of query i.
func (r *RangeResult) Row(i int) ([]int64, []float32) {
	lo, hi := r.Offsets[i], r.Offsets[i+1]
	return r.IDs[lo:hi], r.Distances[lo:hi]
}

// Total returns the total hit count over all queries.
func (r *RangeResult) Total() int {
	if len(r.Offsets) == 0 {
		return 0
	}
	return r.Offsets[len(r.Offsets)-1]
}
