package ml

import (
	"encoding/gob"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	torch "github.com/wangkuiyi/gotorch"
	"gonum.org/v1/gonum/floats"

	"imgdecoder/embedding"
	"imgdecoder/util"
)

// Trainer fits a Decoder so that the Critic's embedding of each decoded
// image matches the embedding it was decoded from.
type Trainer struct {
	cfg    Config
	device torch.Device

	decoder   *Decoder
	critic    Critic
	blur      Blur
	ops       *operators
	optimizer torch.Optimizer
	rng       *rand.Rand

	log     logrus.FieldLogger
	metrics *util.TrainMetrics
	steps   int
	last    LossTerms
}

// preparer is implemented by blurs that cache per-size operators.
type preparer interface {
	Prepare(h, w int64)
}

// NewTrainer places a freshly initialized decoder on device and builds an
// Adam optimizer over its parameters only. critic and blur are used as-is.
// Every operator matrix the loss needs is built here, before Train starts
// collecting tensors.
func NewTrainer(device torch.Device, cfg Config, critic Critic, blur Blur) *Trainer {
	decoder := NewDecoder(cfg.Decoder)
	decoder.To(device)

	opt := torch.Adam(cfg.LearningRate, 0.9, 0.999, 0)
	opt.AddParameters(decoder.Parameters())

	size := cfg.Decoder.ImageSize()
	ops := newOperators(device)
	ops.prepare(size, cfg.CriticInputSize)
	if p, ok := blur.(preparer); ok {
		p.Prepare(size, size)
	}

	return &Trainer{
		cfg:       cfg,
		device:    device,
		decoder:   decoder,
		critic:    critic,
		blur:      blur,
		ops:       ops,
		optimizer: opt,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		log:       util.Logger.WithField("run", cfg.RunID),
		metrics:   util.NewTrainMetrics(cfg.RunID),
	}
}

func (t *Trainer) Decoder() *Decoder { return t.decoder }

func (t *Trainer) Metrics() *util.TrainMetrics { return t.metrics }

// Steps is the number of optimizer steps taken so far.
func (t *Trainer) Steps() int { return t.steps }

// LastLoss returns the loss terms of the most recent TrainStep.
func (t *Trainer) LastLoss() LossTerms { return t.last }

func (t *Trainer) toDevice(rows [][]float64) torch.Tensor {
	data := make([][]float32, len(rows))
	for i, row := range rows {
		data[i] = make([]float32, len(row))
		for j, v := range row {
			data[i][j] = float32(v)
		}
	}
	return torch.NewTensor(data).To(t.device, torch.Float)
}

func unitRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = embedding.Rescale(row, 1)
	}
	return out
}

func (t *Trainer) loss(decoded, target torch.Tensor) lossGraph {
	resized := t.ops.resize(decoded, t.cfg.CriticInputSize)
	pred := l2Normalize(t.critic.Embed(resized), t.device)

	semantic := semanticLoss(pred, target, t.device)
	tv := totalVariation(decoded, t.ops)
	structural := structuralLoss(decoded, t.blur)
	return lossGraph{
		total:      combine(semantic, tv, structural),
		semantic:   semantic,
		tv:         tv,
		structural: structural,
	}
}

// TrainStep takes one optimizer step on a batch of raw embeddings and
// returns the total loss.
func (t *Trainer) TrainStep(batch [][]float64) float32 {
	noisy := embedding.Prepare(t.rng, batch, t.cfg.EmbeddingScale, t.cfg.NoiseStd)
	emb := t.toDevice(noisy)
	target := t.toDevice(unitRows(noisy))

	decoded := t.decoder.Forward(emb)
	g := t.loss(decoded, target)

	t.optimizer.ZeroGrad()
	g.total.Backward()
	t.optimizer.Step()

	t.steps++
	t.last = g.terms()
	t.metrics.Steps.Inc()
	t.metrics.Loss.WithLabelValues("total").Set(float64(t.last.Total))
	t.metrics.Loss.WithLabelValues("semantic").Set(float64(t.last.Semantic))
	t.metrics.Loss.WithLabelValues("tv").Set(float64(t.last.TV))
	t.metrics.Loss.WithLabelValues("structural").Set(float64(t.last.Structural))
	return t.last.Total
}

// Train runs epochs passes over ds in shuffled minibatches, then writes the
// decoder to cfg.OutputPath. Nothing is written if training does not finish.
func (t *Trainer) Train(ds *embedding.Dataset, epochs, batchSize int) error {
	t.log.WithFields(logrus.Fields{
		"samples": ds.Len(),
		"dim":     ds.Dim(),
		"epochs":  epochs,
		"batch":   batchSize,
	}).Info("Training decoder")

	t.runEpochs(ds, epochs, batchSize)

	if err := saveDecoder(t.decoder, t.cfg.OutputPath); err != nil {
		return err
	}
	if t.cfg.PreviewPath != "" && ds.Len() > 0 {
		if err := t.writePreview(ds.Row(0), t.cfg.PreviewPath); err != nil {
			return err
		}
	}
	if t.cfg.MetricsPath != "" {
		if err := t.metrics.WriteTextfile(t.cfg.MetricsPath); err != nil {
			return err
		}
	}
	t.log.WithField("path", t.cfg.OutputPath).Info("Training complete")
	return nil
}

// runEpochs collects the tensors of the previous step before each new one.
// Callers must stay on one OS thread until it returns.
func (t *Trainer) runEpochs(ds *embedding.Dataset, epochs, batchSize int) {
	defer torch.FinishGC()

	for epoch := 0; epoch < epochs; epoch++ {
		startTime := time.Now()
		loader := embedding.NewLoader(ds, batchSize, t.rng)
		losses := make([]float64, 0, loader.Batches())
		totalSamples := 0
		for loader.Scan() {
			torch.GC()
			batch := loader.Minibatch()
			totalSamples += len(batch)
			loss := t.TrainStep(batch)
			losses = append(losses, float64(loss))

			fields := logrus.Fields{
				"loss":       t.last.Total,
				"semantic":   t.last.Semantic,
				"tv":         t.last.TV,
				"structural": t.last.Structural,
			}
			t.log.WithFields(fields).WithField("step", t.steps).Debug("step")
			util.Plot(epoch+1, t.steps, fields)
		}
		throughput := float64(totalSamples) / time.Since(startTime).Seconds()
		t.metrics.Epochs.Inc()
		t.metrics.SampleRate.Set(throughput)
		t.log.WithFields(logrus.Fields{
			"loss":       floats.Sum(losses) / float64(len(losses)),
			"throughput": throughput,
		}).Infof("Epoch %d/%d", epoch+1, epochs)
	}
}

// writePreview decodes one embedding without noise and saves the image.
// The decoder runs in eval mode so BatchNorm running statistics are left
// as training produced them.
func (t *Trainer) writePreview(row []float64, path string) error {
	t.decoder.Train(false)
	defer t.decoder.Train(true)

	emb := t.toDevice([][]float64{embedding.Rescale(row, t.cfg.EmbeddingScale)})
	if err := writeImage(t.decoder.Forward(emb), path); err != nil {
		return err
	}
	t.log.WithField("path", path).Info("Saved preview")
	return nil
}

// saveDecoder writes a host copy of d's state dict. d stays on its device.
func saveDecoder(d *Decoder, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create decoder file %s", path)
	}
	defer f.Close()

	states := make(map[string]torch.Tensor)
	for name, v := range d.StateDict() {
		states[name] = v.To(cpu, v.Dtype())
	}
	if err := gob.NewEncoder(f).Encode(states); err != nil {
		return errors.Wrapf(err, "encode decoder to %s", path)
	}
	return nil
}

// LoadDecoder reads a decoder written by Train. cfg must match the
// configuration it was trained with.
func LoadDecoder(path string, cfg DecoderConfig) (*Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open decoder file %s", path)
	}
	defer f.Close()

	states := make(map[string]torch.Tensor)
	if err := gob.NewDecoder(f).Decode(&states); err != nil {
		return nil, errors.Wrapf(err, "decode decoder file %s", path)
	}
	d := NewDecoder(cfg)
	if err := d.SetStateDict(states); err != nil {
		return nil, errors.Wrapf(err, "load decoder state %s", path)
	}
	return d, nil
}
