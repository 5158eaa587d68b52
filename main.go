package main

import (
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	torch "github.com/wangkuiyi/gotorch"
	"github.com/wangkuiyi/gotorch/nn/initializer"

	"imgdecoder/embedding"
	"imgdecoder/ml"
	"imgdecoder/util"
)

// setup is the fixed job description. There are no flags; tests build
// their own.
type setup struct {
	embeddings string
	critic     string
	outputDir  string
	epochs     int
	batchSize  int
}

func defaultSetup() setup {
	return setup{
		embeddings: "generated_images/eeg_embeddings.npy",
		critic:     "pretrained/critic_encoder.gob",
		outputDir:  "trained_models",
		epochs:     150,
		batchSize:  4,
	}
}

func run(s setup, resolveDevice func(logrus.FieldLogger) torch.Device) error {
	runID := uuid.NewString()
	log := util.Logger.WithField("run", runID)

	ds, err := embedding.Load(s.embeddings)
	if err != nil {
		return err
	}
	log.WithField("shape", []int{ds.Len(), ds.Dim()}).Info("Loaded embeddings")

	device := resolveDevice(log)
	critic, err := ml.LoadFrozenEncoder(s.critic, device)
	if err != nil {
		return err
	}

	cfg := ml.DefaultConfig()
	cfg.Decoder.EmbeddingDim = int64(ds.Dim())
	cfg.OutputPath = filepath.Join(s.outputDir, "novel_decoder.gob")
	cfg.PreviewPath = filepath.Join(s.outputDir, "novel_decoder_preview.png")
	cfg.MetricsPath = filepath.Join(s.outputDir, "train_metrics.prom")
	cfg.RunID = runID

	plot, err := util.InitPlotLogger(s.outputDir, runID)
	if err != nil {
		return err
	}
	defer plot.Close()

	initializer.ManualSeed(cfg.Seed)
	trainer := ml.NewTrainer(device, cfg, critic, ml.NewGaussianBlur(ml.BlurKernelSize, ml.BlurSigma, device))
	return trainer.Train(ds, s.epochs, s.batchSize)
}

func main() {
	// torch.GC tracks tensors per OS thread
	runtime.LockOSThread()
	util.InitLogger(logrus.InfoLevel)

	if err := run(defaultSetup(), ml.ResolveDevice); err != nil {
		util.Logger.WithError(err).Fatal("Decoder training failed")
	}
}
