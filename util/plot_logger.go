package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PlotLogger receives one JSON line per training step so loss curves can be
// plotted after the run. It discards everything until InitPlotLogger is called.
var PlotLogger = newPlotLogger(io.Discard)

func newPlotLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// InitPlotLogger points PlotLogger at <dir>/loss_curve_<tag>.jsonl. The
// returned closer must be called once training finishes.
func InitPlotLogger(dir, tag string) (io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create plot log dir %s", dir)
	}
	fname := filepath.Join(dir, fmt.Sprintf("loss_curve_%s.jsonl", tag))
	file, err := os.Create(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "create plot log %s", fname)
	}
	PlotLogger = newPlotLogger(file)
	return file, nil
}

// Plot records a single point of the loss curve.
func Plot(epoch, step int, fields logrus.Fields) {
	PlotLogger.WithFields(fields).
		WithField("epoch", epoch).
		WithField("step", step).
		Info("step")
}
