package ml

import (
	torch "github.com/wangkuiyi/gotorch"
)

// GaussianBlur is a separable Gaussian filter with reflect padding. It holds
// no trainable state.
type GaussianBlur struct {
	kernel int
	sigma  float64
	ops    *operators
}

func NewGaussianBlur(kernel int, sigma float64, device torch.Device) *GaussianBlur {
	return &GaussianBlur{kernel: kernel, sigma: sigma, ops: newOperators(device)}
}

// Prepare builds the filter matrices for h×w images up front. Call it
// before the first torch.GC so the cached matrices are not tracked.
func (g *GaussianBlur) Prepare(h, w int64) {
	g.ops.gaussian(w, g.kernel, g.sigma)
	g.ops.gaussian(h, g.kernel, g.sigma)
}

func (g *GaussianBlur) Blur(image torch.Tensor) torch.Tensor {
	s := image.Shape()
	x := alongWidth(image, g.ops.gaussian(s[3], g.kernel, g.sigma))
	return alongHeight(x, g.ops.gaussian(s[2], g.kernel, g.sigma))
}
