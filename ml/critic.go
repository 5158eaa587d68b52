package ml

import (
	"encoding/gob"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	torch "github.com/wangkuiyi/gotorch"
	F "github.com/wangkuiyi/gotorch/nn/functional"

	"imgdecoder/util"
)

// CriticProducer names the step that exports the pretrained critic weights.
const CriticProducer = "critic weight export"

var encoderKeys = []string{"patch.weight", "patch.bias", "proj.weight", "proj.bias"}

// FrozenEncoder is a patch-embedding image encoder: non-overlapping
// patches are projected to Width features, averaged over the image and
// projected to the embedding space. Its tensors are detached on load, so
// autograd never records gradients for them.
type FrozenEncoder struct {
	PatchWeight torch.Tensor // [width, 3, patch, patch]
	PatchBias   torch.Tensor // [width]
	ProjWeight  torch.Tensor // [dim, width]
	ProjBias    torch.Tensor // [dim]
}

func (e *FrozenEncoder) Embed(image torch.Tensor) torch.Tensor {
	p := e.PatchWeight.Shape()[2]
	x := F.Conv2d(image, e.PatchWeight, e.PatchBias,
		[]int64{p, p}, []int64{0, 0}, []int64{1, 1}, 1)
	x = torch.Relu(x)
	x = F.AdaptiveAvgPool2d(x, []int64{1, 1})
	x = torch.Flatten(x, 1, 3)
	return F.Linear(x, e.ProjWeight, e.ProjBias)
}

func (e *FrozenEncoder) tensors() map[string]*torch.Tensor {
	return map[string]*torch.Tensor{
		"patch.weight": &e.PatchWeight,
		"patch.bias":   &e.PatchBias,
		"proj.weight":  &e.ProjWeight,
		"proj.bias":    &e.ProjBias,
	}
}

// Checksum sums every weight. Training must leave it unchanged.
func (e *FrozenEncoder) Checksum() float64 {
	var sum float64
	for _, k := range encoderKeys {
		sum += float64(torch.Sum(*e.tensors()[k]).Item().(float32))
	}
	return sum
}

// NewRandomEncoder builds an encoder with fan-in scaled Gaussian weights.
func NewRandomEncoder(dim, width, patch int64, device torch.Device) *FrozenEncoder {
	randn := func(shape []int64, fanIn int64) torch.Tensor {
		w := torch.RandN(shape, false)
		return torch.Mul(w, scalar(float32(1/math.Sqrt(float64(fanIn))), cpu)).To(device, torch.Float)
	}
	return &FrozenEncoder{
		PatchWeight: randn([]int64{width, 3, patch, patch}, 3*patch*patch),
		PatchBias:   torch.Full([]int64{width}, 0, false).To(device, torch.Float),
		ProjWeight:  randn([]int64{dim, width}, width),
		ProjBias:    torch.Full([]int64{dim}, 0, false).To(device, torch.Float),
	}
}

// LoadFrozenEncoder reads a gob state dict written by Save and places it on
// device. A missing file is reported as a missing prerequisite.
func LoadFrozenEncoder(path string, device torch.Device) (*FrozenEncoder, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, util.MissingPrerequisite(path, CriticProducer)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open critic weights %s", path)
	}
	defer f.Close()

	states := make(map[string]torch.Tensor)
	if err := gob.NewDecoder(f).Decode(&states); err != nil {
		return nil, errors.Wrapf(err, "decode critic weights %s", path)
	}

	e := &FrozenEncoder{}
	for name, dst := range e.tensors() {
		t, ok := states[name]
		if !ok {
			return nil, errors.Errorf("critic weights %s: missing tensor %q", path, name)
		}
		*dst = t.Detach().To(device, torch.Float)
	}
	return e, nil
}

// Save writes the encoder as a gob state dict. Training never calls it.
func (e *FrozenEncoder) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create critic weights %s", path)
	}
	defer f.Close()

	states := make(map[string]torch.Tensor)
	for name, t := range e.tensors() {
		states[name] = t.To(cpu, torch.Float)
	}
	return errors.Wrapf(gob.NewEncoder(f).Encode(states), "encode critic weights %s", path)
}
