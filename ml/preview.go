package ml

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	torch "github.com/wangkuiyi/gotorch"
	"gocv.io/x/gocv"
)

// toBGR packs a channel-first image with values in [-1, 1] into interleaved
// 8-bit BGR, the layout gocv expects for CV_8UC3.
func toBGR(at func(c, y, x int) float32, h, w int) []byte {
	buf := make([]byte, 0, h*w*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 2; c >= 0; c-- {
				v := (at(c, y, x) + 1) / 2 * 255
				if v < 0 {
					v = 0
				} else if v > 255 {
					v = 255
				}
				buf = append(buf, byte(v+0.5))
			}
		}
	}
	return buf
}

// writeImage saves the first image of a [B, 3, H, W] batch to path.
func writeImage(img torch.Tensor, path string) error {
	img = img.Detach().To(cpu, torch.Float)
	s := img.Shape()
	if s[1] != 3 {
		return errors.Errorf("preview needs 3 channels, got %d", s[1])
	}
	h, w := int(s[2]), int(s[3])
	buf := toBGR(func(c, y, x int) float32 {
		return img.Index(0, int64(c), int64(y), int64(x)).Item().(float32)
	}, h, w)

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return errors.Wrap(err, "build preview mat")
	}
	defer mat.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	if !gocv.IMWrite(path, mat) {
		return errors.Errorf("write preview %s", path)
	}
	return nil
}
