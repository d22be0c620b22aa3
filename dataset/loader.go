package dataset

import (
	"context"
	"io"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Loader yields batches of a Folder. Batches are assembled by a pool of workers
// ahead of the consumer. The last batch of a pass may be smaller than the batch size.
//
// A Loader is driven by a single goroutine.
type Loader struct {
	folder  *Folder
	batch   int
	workers int
	shuffle bool
	rng     *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	out    chan result
}

type result struct {
	t   *tensor.Dense
	err error
}

// NewLoader creates a loader. At least one worker is used.
func NewLoader(f *Folder, batch, workers int, shuffle bool, seed int64) (*Loader, error) {
	if batch < 1 {
		return nil, errors.Errorf("batch size must be positive, got %d", batch)
	}
	if workers < 1 {
		workers = 1
	}
	return &Loader{
		folder:  f,
		batch:   batch,
		workers: workers,
		shuffle: shuffle,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// Folder returns the folder the loader reads.
func (l *Loader) Folder() *Folder { return l.folder }

// Batches is the number of batches in a pass.
func (l *Loader) Batches() int { return (l.folder.Len() + l.batch - 1) / l.batch }

func (l *Loader) order() []int {
	n := l.folder.Len()
	if l.shuffle {
		return l.rng.Perm(n)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// Reset abandons the current pass and starts a new one. The pass stops when ctx is done.
func (l *Loader) Reset(ctx context.Context) error {
	l.stop()
	l.ctx, l.cancel = context.WithCancel(ctx)
	ctx = l.ctx

	order := l.order()
	jobs := make(chan []int)
	out := make(chan result, l.workers)
	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				t, err := l.load(idx)
				select {
				case out <- result{t, err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for start := 0; start < len(order); start += l.batch {
			end := start + l.batch
			if end > len(order) {
				end = len(order)
			}
			select {
			case jobs <- order[start:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(out)
	}()
	l.out = out
	return nil
}

// Next returns the next batch, or io.EOF at the end of the pass. When the context
// of the pass is done, its error is returned instead.
func (l *Loader) Next() (*tensor.Dense, error) {
	if l.out == nil {
		return nil, io.EOF
	}
	r, ok := <-l.out
	if !ok {
		if err := l.ctx.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return r.t, r.err
}

// Close stops the workers.
func (l *Loader) Close() error {
	l.stop()
	return nil
}

func (l *Loader) stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.out = nil
}

// load stacks the images at idx into one (N,3,H,W) batch.
func (l *Loader) load(idx []int) (*tensor.Dense, error) {
	var backing []float32
	var shape tensor.Shape
	for _, i := range idx {
		img, err := l.folder.Get(i)
		if err != nil {
			return nil, err
		}
		if shape == nil {
			shape = img.Shape().Clone()
			backing = make([]float32, 0, len(idx)*shape.TotalSize())
		} else if !shape.Eq(img.Shape()) {
			return nil, errors.Errorf("images of shapes %v and %v cannot be batched", shape, img.Shape())
		}
		backing = append(backing, img.Data().([]float32)...)
	}
	return tensor.New(tensor.WithShape(len(idx), shape[0], shape[1], shape[2]), tensor.WithBacking(backing)), nil
}
