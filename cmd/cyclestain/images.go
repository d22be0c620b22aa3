package main

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// asBatch reshapes a (C,H,W) image into a batch of one.
func asBatch(img *tensor.Dense) (*tensor.Dense, error) {
	retVal := img.Clone().(*tensor.Dense)
	shp := img.Shape()
	if err := retVal.Reshape(append([]int{1}, shp...)...); err != nil {
		return nil, errors.WithStack(err)
	}
	return retVal, nil
}

func writePNG(filename string, img image.Image) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %v", filename)
	}
	return errors.WithStack(f.Close())
}

func readImage(filename string) (image.Image, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, errors.Wrapf(err, "decoding %v", filename)
}

// outputName replaces the extension of a source file with suffix.png.
func outputName(dir, src, suffix string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(dir, base+suffix+".png")
}

// parseWeights parses a comma separated list of floats.
func parseWeights(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	retVal := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, errors.Wrapf(err, "weight %d", i)
		}
		retVal[i] = float32(v)
	}
	return retVal, nil
}
