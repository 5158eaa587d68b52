package embedding

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"imgdecoder/util"
)

// Producer names the upstream step that writes the embedding file.
const Producer = "embedding generation (infer)"

// Dataset is an immutable matrix of embeddings, one sample per row.
type Dataset struct {
	m *mat.Dense
}

// NewDataset wraps row-major data of the given shape. data is not copied.
func NewDataset(rows, dim int, data []float64) *Dataset {
	return &Dataset{m: mat.NewDense(rows, dim, data)}
}

func (d *Dataset) Len() int {
	r, _ := d.m.Dims()
	return r
}

func (d *Dataset) Dim() int {
	_, c := d.m.Dims()
	return c
}

// Row returns a copy of sample i.
func (d *Dataset) Row(i int) []float64 {
	return mat.Row(nil, i, d.m)
}

// Rows returns copies of the samples at idx, in order.
func (d *Dataset) Rows(idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = d.Row(j)
	}
	return out
}

// Load reads a 2-D float32 or float64 .npy array. A missing file yields a
// util.MissingPrerequisiteError naming the producing step.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, util.MissingPrerequisite(path, Producer)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open embeddings %s", path)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read npy header of %s", path)
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, errors.Errorf("embeddings %s: expected a 2-D array, got shape %v", path, shape)
	}
	if r.Header.Descr.Fortran {
		return nil, errors.Errorf("embeddings %s: fortran-ordered arrays are not supported", path)
	}
	rows, dim := shape[0], shape[1]
	if rows == 0 || dim == 0 {
		return nil, errors.Errorf("embeddings %s: empty array with shape %v", path, shape)
	}

	var data []float64
	switch r.Header.Descr.Type {
	case "<f4":
		var raw []float32
		if err := r.Read(&raw); err != nil {
			return nil, errors.Wrapf(err, "read embeddings %s", path)
		}
		data = make([]float64, len(raw))
		for i, v := range raw {
			data[i] = float64(v)
		}
	case "<f8":
		if err := r.Read(&data); err != nil {
			return nil, errors.Wrapf(err, "read embeddings %s", path)
		}
	default:
		return nil, errors.Errorf("embeddings %s: unsupported dtype %q", path, r.Header.Descr.Type)
	}
	return NewDataset(rows, dim, data), nil
}
