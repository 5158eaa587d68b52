package ml

import (
	"fmt"
	"math"

	torch "github.com/wangkuiyi/gotorch"
)

// Resizing, blurring and finite differences are all separable linear maps,
// so each is a matrix applied along height and then along width. Matrices
// are laid out [in][out] so they right-multiply a flattened image.

// bilinearMatrix resamples n samples to size samples with half-pixel
// centers (align_corners=false).
func bilinearMatrix(n, size int) [][]float32 {
	m := zeros(n, size)
	scale := float64(n) / float64(size)
	for j := 0; j < size; j++ {
		src := (float64(j)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		i0 := int(math.Floor(src))
		if i0 > n-1 {
			i0 = n - 1
		}
		i1 := i0 + 1
		if i1 > n-1 {
			i1 = n - 1
		}
		frac := src - float64(i0)
		m[i0][j] += float32(1 - frac)
		m[i1][j] += float32(frac)
	}
	return m
}

func gaussianKernel(size int, sigma float64) []float64 {
	k := make([]float64, size)
	half := float64(size-1) / 2
	var sum float64
	for i := range k {
		x := (float64(i) - half) / sigma
		k[i] = math.Exp(-0.5 * x * x)
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// reflect mirrors p into [0, n) without repeating the edge sample.
func reflect(p, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	p %= period
	if p < 0 {
		p += period
	}
	if p >= n {
		p = period - p
	}
	return p
}

// gaussianMatrix blurs n samples with a reflect-padded Gaussian kernel.
func gaussianMatrix(n, size int, sigma float64) [][]float32 {
	k := gaussianKernel(size, sigma)
	half := size / 2
	m := zeros(n, n)
	for j := 0; j < n; j++ {
		for t, w := range k {
			m[reflect(j+t-half, n)][j] += float32(w)
		}
	}
	return m
}

// diffMatrix maps n samples to the n-1 forward differences x[j+1]-x[j].
func diffMatrix(n int) [][]float32 {
	m := zeros(n, n-1)
	for j := 0; j < n-1; j++ {
		m[j][j] = -1
		m[j+1][j] = 1
	}
	return m
}

func zeros(rows, cols int) [][]float32 {
	if cols < 0 {
		cols = 0
	}
	m := make([][]float32, rows)
	for i := range m {
		m[i] = make([]float32, cols)
	}
	return m
}

// operators caches device copies of the matrices above by kind and size.
// Matrices built after the first torch.GC on a thread stay registered with
// gotorch's finalizer wait group for as long as the cache holds them, so
// training code fills the cache before entering the loop.
type operators struct {
	device torch.Device
	cache  map[string]torch.Tensor
}

func newOperators(device torch.Device) *operators {
	return &operators{device: device, cache: map[string]torch.Tensor{}}
}

func (o *operators) get(key string, build func() [][]float32) torch.Tensor {
	if t, ok := o.cache[key]; ok {
		return t
	}
	t := torch.NewTensor(build()).To(o.device, torch.Float)
	o.cache[key] = t
	return t
}

func (o *operators) bilinear(n, size int64) torch.Tensor {
	return o.get(fmt.Sprintf("bilinear/%d/%d", n, size), func() [][]float32 {
		return bilinearMatrix(int(n), int(size))
	})
}

func (o *operators) gaussian(n int64, size int, sigma float64) torch.Tensor {
	return o.get(fmt.Sprintf("gaussian/%d/%d/%g", n, size, sigma), func() [][]float32 {
		return gaussianMatrix(int(n), size, sigma)
	})
}

func (o *operators) diff(n int64) torch.Tensor {
	return o.get(fmt.Sprintf("diff/%d", n), func() [][]float32 {
		return diffMatrix(int(n))
	})
}

// prepare builds the resize and difference matrices for size×size images
// scaled to target.
func (o *operators) prepare(size, target int64) {
	if size != target {
		o.bilinear(size, target)
	}
	o.diff(size)
}

// resize scales [B, C, H, W] images to [B, C, size, size] bilinearly.
func (o *operators) resize(x torch.Tensor, size int64) torch.Tensor {
	s := x.Shape()
	if s[2] == size && s[3] == size {
		return x
	}
	x = alongWidth(x, o.bilinear(s[3], size))
	return alongHeight(x, o.bilinear(s[2], size))
}

// alongWidth computes x·m over the last axis: [B,C,H,W]×[W,W'] → [B,C,H,W'].
func alongWidth(x, m torch.Tensor) torch.Tensor {
	s := x.Shape()
	y := torch.MM(torch.Flatten(x, 0, 2), m)
	return y.View(s[0], s[1], s[2], m.Shape()[1])
}

// alongHeight computes m over the height axis: [B,C,H,W]×[H,H'] → [B,C,H',W].
func alongHeight(x, m torch.Tensor) torch.Tensor {
	s := x.Shape()
	y := torch.MM(torch.Flatten(torch.Transpose(x, 2, 3), 0, 2), m)
	return torch.Transpose(y.View(s[0], s[1], s[3], m.Shape()[1]), 2, 3)
}
