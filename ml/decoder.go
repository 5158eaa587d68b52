package ml

import (
	torch "github.com/wangkuiyi/gotorch"
	"github.com/wangkuiyi/gotorch/nn"
)

const seedSize = 4

// Decoder maps embeddings [B, D] to images [B, C, 4·2^k, 4·2^k] in [-1, 1]:
// a linear projection to a seedSize×seedSize feature map followed by
// stride-2 transposed convolutions that halve the channels at every stage.
type Decoder struct {
	nn.Module
	Project *nn.LinearModule
	Body    *nn.SequentialModule
}

// ImageSize is the side length of the images the decoder produces.
func (cfg DecoderConfig) ImageSize() int64 {
	return seedSize << uint(cfg.Stages)
}

func NewDecoder(cfg DecoderConfig) *Decoder {
	ch := cfg.BaseChannels
	var layers []nn.IModule
	for i := 0; i < cfg.Stages-1; i++ {
		layers = append(layers,
			nn.ConvTranspose2d(ch, ch/2, 4, 2, 1, 0, 1, false, 1, "zeros"),
			nn.BatchNorm2d(ch/2, 1e-5, 0.1, true, true),
			nn.Functional(torch.Relu))
		ch /= 2
	}
	layers = append(layers,
		nn.ConvTranspose2d(ch, cfg.OutChannels, 4, 2, 1, 0, 1, false, 1, "zeros"),
		nn.Functional(torch.Tanh))

	d := &Decoder{
		Project: nn.Linear(cfg.EmbeddingDim, cfg.BaseChannels*seedSize*seedSize, true),
		Body:    nn.Sequential(layers...),
	}
	d.Init(d)
	return d
}

func (d *Decoder) Forward(x torch.Tensor) torch.Tensor {
	channels := d.Project.Weight.Shape()[0] / (seedSize * seedSize)
	x = torch.Relu(d.Project.Forward(x))
	x = torch.View(x, -1, channels, seedSize, seedSize)
	return d.Body.Forward(x).(torch.Tensor)
}
