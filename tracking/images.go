package tracking

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// PNGDir writes every grid to a directory as epoch_caption.png.
type PNGDir struct {
	Dir string

	written []string
}

// NewPNGDir creates dir if needed.
func NewPNGDir(dir string) (*PNGDir, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	return &PNGDir{Dir: dir}, nil
}

// Filename is where a grid for the given epoch and caption is written.
func (d *PNGDir) Filename(epoch int, caption string) string {
	slug := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(caption), "_"), "_")
	if slug == "" {
		slug = "grid"
	}
	if len(slug) > 48 {
		slug = slug[:48]
	}
	return filepath.Join(d.Dir, fmt.Sprintf("%04d_%s.png", epoch, slug))
}

// Written lists the files written so far.
func (d *PNGDir) Written() []string { return d.written }

// LogImage implements ImageLogger.
func (d *PNGDir) LogImage(epoch int, grid image.Image, caption string) error {
	filename := d.Filename(epoch, caption)
	f, err := os.Create(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := png.Encode(f, grid); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %v", filename)
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}
	d.written = append(d.written, filename)
	return nil
}
