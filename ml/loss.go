package ml

import (
	"math"

	torch "github.com/wangkuiyi/gotorch"
)

const normEps = 1e-12

var cpu = torch.NewDevice("cpu")

// LossTerms are host copies of one step's losses.
type LossTerms struct {
	Total      float32
	Semantic   float32
	TV         float32
	Structural float32
}

type lossGraph struct {
	total, semantic, tv, structural torch.Tensor
}

func (g lossGraph) terms() LossTerms {
	return LossTerms{
		Total:      g.total.Item().(float32),
		Semantic:   g.semantic.Item().(float32),
		TV:         g.tv.Item().(float32),
		Structural: g.structural.Item().(float32),
	}
}

func scalar(v float32, device torch.Device) torch.Tensor {
	return torch.Full([]int64{1}, v, false).To(device, torch.Float)
}

// abs is |x| written as 2·relu(x) − x.
func abs(x torch.Tensor) torch.Tensor {
	r := torch.Relu(x)
	return torch.Sub(torch.Add(r, r, 1), x, 1)
}

// l2Normalize scales every row of v [B, D] to unit length. The inverse norm
// is taken on the host as r₀ and re-entered as r₀·(1.5 − 0.5·s·r₀²), the
// Newton step for s^-½, which equals r₀ and carries the exact gradient.
func l2Normalize(v torch.Tensor, device torch.Device) torch.Tensor {
	sq := torch.Mul(v, v).Sum(map[string]interface{}{"dim": 1, "keepDim": true})
	host := sq.Detach().To(cpu, torch.Float)
	n := sq.Shape()[0]
	inv := make([][]float32, n)
	invSq := make([][]float32, n)
	for i := range inv {
		s := float64(host.Index(int64(i), 0).Item().(float32))
		r := 1 / math.Max(math.Sqrt(s), normEps)
		inv[i] = []float32{float32(r)}
		invSq[i] = []float32{float32(r * r)}
	}
	r0 := torch.NewTensor(inv).To(device, torch.Float)
	r0sq := torch.NewTensor(invSq).To(device, torch.Float)
	scale := torch.Mul(r0, torch.Sub(scalar(1.5, device), torch.Mul(sq, r0sq), 0.5))
	return torch.Mul(v, scale)
}

// semanticLoss is 1 − mean cosine similarity of unit rows.
func semanticLoss(pred, target torch.Tensor, device torch.Device) torch.Tensor {
	cos := torch.Mul(pred, target).Sum(map[string]interface{}{"dim": 1, "keepDim": false})
	return torch.Sub(scalar(1, device), torch.Mean(cos), 1)
}

// totalVariation is mean |Δx| + mean |Δy| over adjacent pixels.
func totalVariation(x torch.Tensor, ops *operators) torch.Tensor {
	s := x.Shape()
	dx := alongWidth(x, ops.diff(s[3]))
	dy := alongHeight(x, ops.diff(s[2]))
	return torch.Add(torch.Mean(abs(dx)), torch.Mean(abs(dy)), 1)
}

// structuralLoss is the mean squared distance between x and its blur.
func structuralLoss(x torch.Tensor, blur Blur) torch.Tensor {
	d := torch.Sub(x, blur.Blur(x), 1)
	return torch.Mean(torch.Mul(d, d))
}

func combine(semantic, tv, structural torch.Tensor) torch.Tensor {
	return torch.Add(torch.Add(semantic, tv, TVWeight), structural, StructuralWeight)
}
