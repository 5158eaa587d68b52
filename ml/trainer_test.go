package ml

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	torch "github.com/wangkuiyi/gotorch"
	"github.com/wangkuiyi/gotorch/nn/initializer"

	"imgdecoder/embedding"
)

const testCriticSize = 32

func testConfig(t *testing.T, dim int64) Config {
	cfg := DefaultConfig()
	cfg.CriticInputSize = testCriticSize
	cfg.Decoder = SmallDecoderConfig(dim)
	cfg.OutputPath = filepath.Join(t.TempDir(), "trained_models", "novel_decoder.gob")
	cfg.RunID = t.Name()
	return cfg
}

func newTestTrainer(t *testing.T, cfg Config) (*Trainer, *DumbCritic) {
	initializer.ManualSeed(1)
	critic := NewDumbCritic(cfg.Decoder.EmbeddingDim, cfg.CriticInputSize, cpu)
	return NewTrainer(cpu, cfg, critic, NewGaussianBlur(BlurKernelSize, BlurSigma, cpu)), critic
}

// lockThread pins the test to one OS thread, as torch.GC requires.
func lockThread(t *testing.T) {
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
}

// stateChecksum sums every parameter and buffer of d.
func stateChecksum(d *Decoder) float64 {
	var sum float64
	for _, v := range d.StateDict() {
		switch x := torch.Sum(v).Item().(type) {
		case float32:
			sum += float64(x)
		case float64:
			sum += x
		case int64:
			sum += float64(x)
		}
	}
	return sum
}

func TestDecoderOutputShape(t *testing.T) {
	d := NewDecoder(SmallDecoderConfig(4))
	out := d.Forward(torch.NewTensor([][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}))
	assert.Equal(t, []int64{3, 3, 16, 16}, out.Shape())
	assert.Equal(t, int64(16), SmallDecoderConfig(4).ImageSize())
	assert.Equal(t, int64(64), DefaultConfig().Decoder.ImageSize())
}

func TestNewTrainerBuildsOperatorsUpFront(t *testing.T) {
	cfg := testConfig(t, 4)
	blur := NewGaussianBlur(BlurKernelSize, BlurSigma, cpu)
	trainer := NewTrainer(cpu, cfg, NewDumbCritic(4, cfg.CriticInputSize, cpu), blur)

	// bilinear 16→32 and diff 16; one gaussian since the images are square
	require.Len(t, trainer.ops.cache, 2)
	require.Len(t, blur.ops.cache, 1)

	trainer.TrainStep([][]float64{{1, 2, 3, 4}, {4, 3, 2, 1}})
	assert.Len(t, trainer.ops.cache, 2)
	assert.Len(t, blur.ops.cache, 1)
}

func TestTrainStepLossIsNonNegative(t *testing.T) {
	trainer, _ := newTestTrainer(t, testConfig(t, 4))
	batch := [][]float64{{1, 2, 3, 4}, {-1, 0.5, 0, 2}}
	for i := 0; i < 5; i++ {
		loss := trainer.TrainStep(batch)
		terms := trainer.LastLoss()

		assert.Equal(t, terms.Total, loss)
		assert.GreaterOrEqual(t, loss, float32(0))
		assert.GreaterOrEqual(t, terms.Semantic, float32(-1e-5))
		assert.LessOrEqual(t, terms.Semantic, float32(2+1e-5))
		assert.GreaterOrEqual(t, terms.TV, float32(0))
		assert.GreaterOrEqual(t, terms.Structural, float32(0))
		assert.InDelta(t, terms.Semantic+TVWeight*terms.TV+StructuralWeight*terms.Structural, terms.Total, 1e-4)
	}
	assert.Equal(t, 5, trainer.Steps())
	assert.Equal(t, float64(5), testutil.ToFloat64(trainer.Metrics().Steps))
}

func TestTrainStepLeavesCriticUntouched(t *testing.T) {
	cfg := testConfig(t, 4)
	trainer, critic := newTestTrainer(t, cfg)
	before := critic.Checksum()
	trainer.TrainStep([][]float64{{1, 2, 3, 4}, {4, 3, 2, 1}})
	assert.Equal(t, before, critic.Checksum())

	encoder := NewRandomEncoder(4, 8, 8, cpu)
	trainer = NewTrainer(cpu, cfg, encoder, NewGaussianBlur(BlurKernelSize, BlurSigma, cpu))
	before = encoder.Checksum()
	trainer.TrainStep([][]float64{{1, 2, 3, 4}, {4, 3, 2, 1}})
	assert.Equal(t, before, encoder.Checksum())
}

func TestTrainStepUpdatesDecoder(t *testing.T) {
	trainer, _ := newTestTrainer(t, testConfig(t, 4))
	w := trainer.Decoder().Project.Weight
	before := float64(torch.Sum(w).Item().(float32))
	trainer.TrainStep([][]float64{{1, 2, 3, 4}})
	assert.NotEqual(t, before, float64(torch.Sum(trainer.Decoder().Project.Weight).Item().(float32)))
}

func TestTrainStepConvergesOnRepeatedEmbedding(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.LearningRate = 1e-3
	trainer, _ := newTestTrainer(t, cfg)
	batch := [][]float64{{0.3, -1, 2, 0.5}, {0.3, -1, 2, 0.5}, {0.3, -1, 2, 0.5}, {0.3, -1, 2, 0.5}}

	var losses []float32
	for i := 0; i < 80; i++ {
		losses = append(losses, trainer.TrainStep(batch))
	}
	mean := func(xs []float32) float32 {
		var s float32
		for _, x := range xs {
			s += x
		}
		return s / float32(len(xs))
	}
	assert.Less(t, mean(losses[70:]), mean(losses[:10]))
}

func TestTrainOneEpochSavesDecoder(t *testing.T) {
	lockThread(t)
	cfg := testConfig(t, 4)
	cfg.MetricsPath = filepath.Join(filepath.Dir(cfg.OutputPath), "train.prom")
	trainer, _ := newTestTrainer(t, cfg)
	ds := embedding.NewDataset(2, 4, []float64{1, 2, 3, 4, -4, 3, -2, 1})

	require.NoError(t, trainer.Train(ds, 1, 2))
	assert.Equal(t, 1, trainer.Steps())
	assert.FileExists(t, cfg.OutputPath)
	assert.FileExists(t, cfg.MetricsPath)

	d, err := LoadDecoder(cfg.OutputPath, cfg.Decoder)
	require.NoError(t, err)
	assert.Equal(t,
		float64(torch.Sum(trainer.Decoder().Project.Weight).Item().(float32)),
		float64(torch.Sum(d.Project.Weight).Item().(float32)))
}

func TestTrainKeepsPartialBatches(t *testing.T) {
	lockThread(t)
	cfg := testConfig(t, 4)
	trainer, _ := newTestTrainer(t, cfg)
	ds := embedding.NewDataset(5, 4, []float64{
		1, 2, 3, 4,
		4, 3, 2, 1,
		0, 1, 0, 1,
		1, 0, 1, 0,
		2, 2, 2, 3,
	})
	require.NoError(t, trainer.Train(ds, 2, 2))
	assert.Equal(t, 6, trainer.Steps())
}

func TestTrainWithoutEpochsStillSaves(t *testing.T) {
	lockThread(t)
	cfg := testConfig(t, 4)
	trainer, _ := newTestTrainer(t, cfg)
	require.NoError(t, trainer.Train(embedding.NewDataset(1, 4, []float64{1, 1, 1, 1}), 0, 4))
	assert.Equal(t, 0, trainer.Steps())
	_, err := os.Stat(cfg.OutputPath)
	assert.NoError(t, err)
}

func TestTrainSeveralEpochsOfSeveralBatches(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.MetricsPath = filepath.Join(filepath.Dir(cfg.OutputPath), "train.prom")
	ds := embedding.NewDataset(6, 4, []float64{
		1, 2, 3, 4,
		4, 3, 2, 1,
		0, 1, 0, 1,
		1, 0, 1, 0,
		2, 2, 2, 3,
		-1, 0, 2, 1,
	})

	type result struct {
		trainer *Trainer
		err     error
	}
	done := make(chan result, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		trainer, _ := newTestTrainer(t, cfg)
		done <- result{trainer, trainer.Train(ds, 3, 2)}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, 9, r.trainer.Steps())
		assert.Equal(t, float64(9), testutil.ToFloat64(r.trainer.Metrics().Steps))
		assert.Equal(t, float64(3), testutil.ToFloat64(r.trainer.Metrics().Epochs))
		assert.FileExists(t, cfg.OutputPath)
		assert.FileExists(t, cfg.MetricsPath)

		// the trainer keeps working after Train returns
		r.trainer.TrainStep([][]float64{{1, 2, 3, 4}})
		assert.Equal(t, 10, r.trainer.Steps())
	case <-time.After(2 * time.Minute):
		t.Fatal("Train did not finish")
	}
}

func TestSaveDecoderLeavesDecoderIntact(t *testing.T) {
	d := NewDecoder(SmallDecoderConfig(4))
	before := stateChecksum(d)
	path := filepath.Join(t.TempDir(), "decoder.gob")

	require.NoError(t, saveDecoder(d, path))
	assert.Equal(t, before, stateChecksum(d))

	loaded, err := LoadDecoder(path, SmallDecoderConfig(4))
	require.NoError(t, err)
	assert.InDelta(t, before, stateChecksum(loaded), 1e-3)
}

func TestLoadDecoderRejectsMismatchedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decoder.gob")
	require.NoError(t, saveDecoder(NewDecoder(SmallDecoderConfig(4)), path))

	cfg := SmallDecoderConfig(4)
	cfg.Stages = 3
	_, err := LoadDecoder(path, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}
