package ml

import (
	"math"

	torch "github.com/wangkuiyi/gotorch"
	F "github.com/wangkuiyi/gotorch/nn/functional"
)

// DumbCritic embeds an image with one fixed random projection of its
// pixels. It stands in for a pretrained encoder in tests and smoke runs.
type DumbCritic struct {
	W torch.Tensor // [dim, 3·size·size]
}

func NewDumbCritic(dim, size int64, device torch.Device) *DumbCritic {
	in := 3 * size * size
	w := torch.Mul(torch.RandN([]int64{dim, in}, false), scalar(float32(1/math.Sqrt(float64(in))), cpu))
	return &DumbCritic{W: w.To(device, torch.Float)}
}

func (c *DumbCritic) Embed(image torch.Tensor) torch.Tensor {
	return F.Linear(torch.Flatten(image, 1, 3), c.W, torch.Tensor{})
}

func (c *DumbCritic) Checksum() float64 {
	return float64(torch.Sum(c.W).Item().(float32))
}
