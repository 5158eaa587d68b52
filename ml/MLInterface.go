package ml

import (
	torch "github.com/wangkuiyi/gotorch"
)

// Critic maps an image batch [B, 3, S, S] to embeddings [B, D]. It is never
// trained; gradients only flow through it back to the decoder.
type Critic interface {
	Embed(image torch.Tensor) torch.Tensor
}

// Blur is a fixed smoothing operator over [B, C, H, W] images.
type Blur interface {
	Blur(image torch.Tensor) torch.Tensor
}
