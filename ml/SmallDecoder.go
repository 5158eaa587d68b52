package ml

// SmallDecoderConfig is a two-stage decoder producing 16×16 images, cheap
// enough for smoke runs on the CPU.
func SmallDecoderConfig(embeddingDim int64) DecoderConfig {
	return DecoderConfig{
		EmbeddingDim: embeddingDim,
		BaseChannels: 8,
		Stages:       2,
		OutChannels:  3,
	}
}
