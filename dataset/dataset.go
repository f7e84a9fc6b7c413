// Package dataset streams fixed-size training batches from a directory of
// images. Decoding runs on a small worker pool so I/O and preprocessing
// overlap with training compute, but batches are reassembled in a
// deterministic order: the same seed always yields the same batch sequence.
package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"faststyle/tensor"
)

const defaultWorkers = 4

// Dataset is a lazy, per-epoch-restartable source of NHWC float32 [0, 255]
// image batches, each cropped or padded to a fixed square size. Trailing
// images that do not fill a complete batch are dropped, so every batch has
// the configured size.
type Dataset struct {
	files     []string
	imageSize int
	batchSize int
	seed      int64
	workers   int

	epoch int
}

// Open scans dir for JPEG and PNG files and prepares a dataset over them.
func Open(dir string, imageSize, batchSize int, seed int64) (*Dataset, error) {
	if imageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", imageSize)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %v", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) < batchSize {
		return nil, fmt.Errorf("dataset directory %s holds %d usable images, need at least %d for one batch",
			dir, len(files), batchSize)
	}
	sort.Strings(files)

	return &Dataset{
		files:     files,
		imageSize: imageSize,
		batchSize: batchSize,
		seed:      seed,
		workers:   defaultWorkers,
	}, nil
}

// Len returns the number of images in the dataset.
func (d *Dataset) Len() int {
	return len(d.files)
}

type sample struct {
	idx int
	img *tensor.Tensor
}

// Epoch streams one shuffled pass over the dataset. Each call reshuffles
// with a fresh epoch-derived seed and starts from the beginning. The error
// channel carries at most one value and is closed when the pass ends; a
// malformed image is fatal to the pass, not skipped.
func (d *Dataset) Epoch(ctx context.Context) (<-chan *tensor.Tensor, <-chan error) {
	order := append([]string(nil), d.files...)
	rng := rand.New(rand.NewSource(d.seed + int64(d.epoch)))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	d.epoch++

	out := make(chan *tensor.Tensor, 2)
	errCh := make(chan error, 1)

	numBatches := len(order) / d.batchSize
	order = order[:numBatches*d.batchSize]

	go func() {
		defer close(out)
		defer close(errCh)
		if err := d.stream(ctx, order, out); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// stream decodes order on a worker pool and reassembles batches in order.
func (d *Dataset) stream(ctx context.Context, order []string, out chan<- *tensor.Tensor) error {
	g, ctx := errgroup.WithContext(ctx)

	paths := make(chan sampleJob, d.workers)
	decoded := make(chan sample, d.workers*2)

	g.Go(func() error {
		defer close(paths)
		for i, path := range order {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case paths <- sampleJob{idx: i, path: path}:
			}
		}
		return nil
	})

	workers := errgroup.Group{}
	for w := 0; w < d.workers; w++ {
		workers.Go(func() error {
			for job := range paths {
				img, err := LoadImageSized(job.path, d.imageSize)
				if err != nil {
					return fmt.Errorf("failed to load %s: %v", job.path, err)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case decoded <- sample{idx: job.idx, img: img}:
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(decoded)
		return workers.Wait()
	})

	g.Go(func() error {
		return d.assemble(ctx, len(order), decoded, out)
	})

	return g.Wait()
}

type sampleJob struct {
	idx  int
	path string
}

// assemble reorders decoded samples by index and packs them into batches.
func (d *Dataset) assemble(ctx context.Context, total int, decoded <-chan sample, out chan<- *tensor.Tensor) error {
	pending := make(map[int]*tensor.Tensor)
	next := 0
	batch := make([]*tensor.Tensor, 0, d.batchSize)

	flush := func() error {
		packed, err := packBatch(batch)
		if err != nil {
			return err
		}
		batch = batch[:0]
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- packed:
			return nil
		}
	}

	for next < total {
		img, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case s, open := <-decoded:
				if !open {
					return fmt.Errorf("decode pipeline ended early at sample %d of %d", next, total)
				}
				pending[s.idx] = s.img
			}
			continue
		}
		delete(pending, next)
		next++

		batch = append(batch, img)
		if len(batch) == d.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// packBatch stacks single-image tensors [1, H, W, C] into one [N, H, W, C]
// batch tensor.
func packBatch(images []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("cannot pack an empty batch")
	}
	h, w, c := images[0].Shape[1], images[0].Shape[2], images[0].Shape[3]
	data := make([]float32, 0, len(images)*h*w*c)
	for i, img := range images {
		if img.Shape[1] != h || img.Shape[2] != w || img.Shape[3] != c {
			return nil, fmt.Errorf("image %d has shape %v, batch expects [1 %d %d %d]", i, img.Shape, h, w, c)
		}
		data = append(data, img.Data...)
	}
	return tensor.New([]int{len(images), h, w, c}, data)
}
