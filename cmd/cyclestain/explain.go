package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/cyclestain"
	"github.com/gorgonia/cyclestain/dataset"
	"github.com/gorgonia/cyclestain/encoding/grid"
	"github.com/gorgonia/cyclestain/explain"
	gan "github.com/gorgonia/cyclestain/gannet"
)

type explainFlags struct {
	Checkpoint string
	Stain      string
	Masked     bool
	Steps      int
	Input      string
	Output     string
}

func newExplainCmd() *cobra.Command {
	opts := &explainFlags{}
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Attribute a discriminator's decisions to image pixels",
		Long: `Computes integrated gradients of a discriminator's fake loss for every
image of a directory and writes the saliency next to the image.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts)
		},
	}
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "checkpoint to load")
	cmd.Flags().StringVar(&opts.Stain, "stain", "he", "discriminator to explain (he, p63)")
	cmd.Flags().BoolVar(&opts.Masked, "masked", false, "explain the mask discriminator")
	cmd.Flags().IntVar(&opts.Steps, "steps", 32, "integration steps")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "directory of images")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "directory to write saliency maps to")
	cmd.MarkFlagRequired("checkpoint")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

func discriminator(c *cyclestain.Controller, stain string, masked bool) (*gan.Discriminator, error) {
	switch {
	case stain == "he" && masked:
		return c.DiscriminatorHEMask, nil
	case stain == "he":
		return c.DiscriminatorHE, nil
	case stain == "p63" && masked:
		return c.DiscriminatorP63Mask, nil
	case stain == "p63":
		return c.DiscriminatorP63, nil
	}
	return nil, errors.Errorf("unknown stain %q", stain)
}

// normalizeSaliency scales a saliency map into [0,1] in place.
func normalizeSaliency(s *tensor.Dense) {
	data := s.Data().([]float32)
	var max float32
	for _, v := range data {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		vecf32.Scale(data, 1/max)
	}
}

func runExplain(opts *explainFlags) error {
	log := setupLogger(logLevel, logFormat)
	c, err := cyclestain.Load(opts.Checkpoint, cyclestain.Evaluating, nil, log)
	if err != nil {
		return err
	}
	defer c.Close()
	d, err := discriminator(c, opts.Stain, opts.Masked)
	if err != nil {
		return err
	}

	f, err := dataset.Open(opts.Input, dataset.Options{Size: c.Resolution(), Norm: c.Norm}, log)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(opts.Output, 0755); err != nil {
		return errors.WithStack(err)
	}
	for i, name := range f.Files() {
		img, err := f.Get(i)
		if err != nil {
			return err
		}
		batch, err := asBatch(img)
		if err != nil {
			return err
		}
		saliency, err := explain.IntegratedGradients(d, c.Context(), batch, opts.Steps)
		if err != nil {
			return errors.WithMessagef(err, "explaining %v", name)
		}
		normalizeSaliency(saliency)
		grey, err := grid.Decode(c.Norm, saliency)
		if err != nil {
			return err
		}
		if err = writePNG(outputName(opts.Output, name, "_saliency"), grey); err != nil {
			return err
		}
	}
	log.WithFields(logrus.Fields{"images": f.Len(), "discriminator": d.Name()}).Info("explanations done")
	return nil
}
