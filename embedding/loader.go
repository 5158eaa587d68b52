package embedding

import "math/rand"

// Loader walks a Dataset once in a random order, batchSize rows at a time.
// The last batch may be shorter. Create a new Loader for every epoch.
type Loader struct {
	ds        *Dataset
	batchSize int
	perm      []int
	pos       int
	batch     [][]float64
}

func NewLoader(ds *Dataset, batchSize int, rng *rand.Rand) *Loader {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Loader{
		ds:        ds,
		batchSize: batchSize,
		perm:      rng.Perm(ds.Len()),
	}
}

// Scan advances to the next minibatch and reports whether one exists.
func (l *Loader) Scan() bool {
	if l.pos >= len(l.perm) {
		l.batch = nil
		return false
	}
	end := l.pos + l.batchSize
	if end > len(l.perm) {
		end = len(l.perm)
	}
	l.batch = l.ds.Rows(l.perm[l.pos:end])
	l.pos = end
	return true
}

// Minibatch returns the rows selected by the last successful Scan.
func (l *Loader) Minibatch() [][]float64 {
	return l.batch
}

// Batches is the number of minibatches a full pass yields.
func (l *Loader) Batches() int {
	return (len(l.perm) + l.batchSize - 1) / l.batchSize
}
