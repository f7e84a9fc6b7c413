package training

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"faststyle/tensor"
)

// Reporter persists step-indexed training records under the log directory
// and prints a one-line console summary per emission. Scalars append to one
// CSV per metric; images land as PNG files named by step. The layout:
//
//	<logdir>/train/run.json
//	<logdir>/train/scalars/<metric>.csv
//	<logdir>/train/images/<name>/step-<step>.png
type Reporter struct {
	dir   string
	runID string
}

// NewReporter prepares the log directory layout and records the run
// identity.
func NewReporter(logDir, runID string) (*Reporter, error) {
	dir := filepath.Join(logDir, "train")
	for _, sub := range []string{"scalars", "images"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
	}

	r := &Reporter{dir: dir, runID: runID}
	if err := r.writeRunRecord(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reporter) writeRunRecord() error {
	record := struct {
		RunID     string    `json:"run_id"`
		StartedAt time.Time `json:"started_at"`
	}{RunID: r.runID, StartedAt: time.Now()}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, "run.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write run record: %v", err)
	}
	return nil
}

// Emit writes every metric's windowed average and every sample image tagged
// with the step, then prints the console summary line. Metrics are reported
// in the order given.
func (r *Reporter) Emit(step int, metrics []*Mean, images map[string]*tensor.Tensor) error {
	var summary strings.Builder
	fmt.Fprintf(&summary, "Step %d", step)

	for _, m := range metrics {
		value, err := m.Result()
		if err != nil {
			return err
		}
		if err := r.appendScalar(m.Name(), step, value); err != nil {
			return err
		}
		fmt.Fprintf(&summary, ", %s: %.6g", m.Name(), value)
	}

	for name, img := range images {
		if err := r.writeImage(name, step, img); err != nil {
			return err
		}
	}

	fmt.Println(summary.String())
	return nil
}

func (r *Reporter) appendScalar(name string, step int, value float64) error {
	path := filepath.Join(r.dir, "scalars", name+".csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open scalar record %s: %v", name, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d,%g\n", step, value); err != nil {
		return fmt.Errorf("failed to append scalar record %s: %v", name, err)
	}
	return nil
}

func (r *Reporter) writeImage(name string, step int, t *tensor.Tensor) error {
	img, err := imageFromTensor(t)
	if err != nil {
		return fmt.Errorf("image record %s: %v", name, err)
	}

	dir := filepath.Join(r.dir, "images", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create image record directory %s: %v", name, err)
	}

	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("step-%08d.png", step)))
	if err != nil {
		return fmt.Errorf("failed to create image record %s: %v", name, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode image record %s: %v", name, err)
	}
	return nil
}

// imageFromTensor renders the first batch element of an NHWC [0, 255] tensor
// as an image, clamping out-of-range values.
func imageFromTensor(t *tensor.Tensor) (image.Image, error) {
	if len(t.Shape) != 4 || t.Shape[3] != 3 {
		return nil, fmt.Errorf("expected NHWC tensor with 3 channels, got shape %v", t.Shape)
	}
	h, w := t.Shape[1], t.Shape[2]

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * 3
			img.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(t.Data[base]),
				G: clampByte(t.Data[base+1]),
				B: clampByte(t.Data[base+2]),
				A: 255,
			})
		}
	}
	return img, nil
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
