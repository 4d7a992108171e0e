package backend

// neighbor is a candidate result.
type neighbor struct {
	id    int64
	score float32
}

// topK keeps the k best candidates seen so far. The heap root is the worst
// retained candidate so it can be evicted in O(log k).
type topK struct {
	k       int
	higher  bool // higher score is better
	items   []neighbor
	padding float32
}

func newTopK(k int, m Metric) *topK {
	return &topK{
		k:       k,
		higher:  m.HigherIsCloser(),
		items:   make([]neighbor, 0, k),
		padding: worst(m),
	}
}

func (t *topK) reset() {
	t.items = t.items[:0]
}

// better reports whether a ranks before b. Ties break on the smaller id so
// results are deterministic.
func (t *topK) better(a, b neighbor) bool {
	if a.score != b.score {
		if t.higher {
			return a.score > b.score
		}
		return a.score < b.score
	}
	return a.id < b.id
}

func (t *topK) push(id int64, score float32) {
	n := neighbor{id: id, score: score}
	if len(t.items) < t.k {
		t.items = append(t.items, n)
		t.siftUp(len(t.items) - 1)
		return
	}
	if !t.better(n, t.items[0]) {
		return
	}
	t.items[0] = n
	t.siftDown(0)
}

func (t *topK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !t.better(t.items[p], t.items[i]) {
			return
		}
		t.items[i], t.items[p] = t.items[p], t.items[i]
		i = p
	}
}

func (t *topK) siftDown(i int) {
	n := len(t.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		w := l
		if r := l + 1; r < n && t.better(t.items[l], t.items[r]) {
			w = r
		}
		if !t.better(t.items[i], t.items[w]) {
			return
		}
		t.items[i], t.items[w] = t.items[w], t.items[i]
		i = w
	}
}

// drain writes the retained candidates best-first into labels and scores,
// padding the tail with -1 and the metric's worst score. The collector is
// empty afterwards.
func (t *topK) drain(labels []int64, scores []float32) {
	count := len(t.items)
	for i := count - 1; i >= 0; i-- {
		labels[i] = t.items[0].id
		scores[i] = t.items[0].score
		last := len(t.items) - 1
		t.items[0] = t.items[last]
		t.items = t.items[:last]
		t.siftDown(0)
	}
	for i := count; i < len(labels); i++ {
		labels[i] = -1
		scores[i] = t.padding
	}
}
