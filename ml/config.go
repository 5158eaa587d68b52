package ml

// Loss weights and blur parameters are fixed for every run.
const (
	TVWeight         = 0.2
	StructuralWeight = 0.3

	BlurKernelSize = 5
	BlurSigma      = 1.0
)

// DecoderConfig sizes the decoder. Output images are
// 4·2^Stages pixels square.
type DecoderConfig struct {
	EmbeddingDim int64
	BaseChannels int64
	Stages       int
	OutChannels  int64
}

// Config is everything a Trainer needs besides its collaborators.
type Config struct {
	LearningRate float64
	// Embeddings are normalized to this L2 norm before noise is added.
	EmbeddingScale float64
	NoiseStd       float64
	// Side length the critic expects its input images resized to.
	CriticInputSize int64

	Decoder DecoderConfig

	OutputPath  string
	PreviewPath string // optional
	MetricsPath string // optional

	Seed  int64
	RunID string
}

func DefaultConfig() Config {
	return Config{
		LearningRate:    1e-4,
		EmbeddingScale:  3.0,
		NoiseStd:        0.05,
		CriticInputSize: 224,
		Decoder: DecoderConfig{
			EmbeddingDim: 512,
			BaseChannels: 256,
			Stages:       4,
			OutChannels:  3,
		},
		OutputPath: "trained_models/novel_decoder.gob",
		Seed:       1,
	}
}
