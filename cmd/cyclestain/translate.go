package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gorgonia/cyclestain"
	"github.com/gorgonia/cyclestain/dataset"
	"github.com/gorgonia/cyclestain/encoding/grid"
)

type translateFlags struct {
	Checkpoint string
	Direction  string
	Input      string
	Output     string
	Edit       string
}

func newTranslateCmd() *cobra.Command {
	opts := &translateFlags{}
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate a directory of images with a trained generator",
		Example: `  cyclestain translate --checkpoint checkpoints/cyclestain_200.ckpt --input data/testA --output out/he_to_p63

  # shift the interpretable codes while translating
  cyclestain translate --checkpoint c.ckpt --direction p63_to_he --input data/testB --output out --edit 0.5,0,0,-0.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(opts)
		},
	}
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "checkpoint to load")
	cmd.Flags().StringVar(&opts.Direction, "direction", cyclestain.HEToP63.String(), "he_to_p63 or p63_to_he")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "directory of images to translate")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "directory to write translations to")
	cmd.Flags().StringVar(&opts.Edit, "edit", "", "comma separated weights of the interpretable code channels")
	cmd.MarkFlagRequired("checkpoint")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

func parseDirection(s string) (cyclestain.Direction, error) {
	switch s {
	case cyclestain.HEToP63.String():
		return cyclestain.HEToP63, nil
	case cyclestain.P63ToHE.String():
		return cyclestain.P63ToHE, nil
	}
	return 0, errors.Errorf("unknown direction %q", s)
}

func runTranslate(opts *translateFlags) error {
	log := setupLogger(logLevel, logFormat)
	d, err := parseDirection(opts.Direction)
	if err != nil {
		return err
	}
	c, err := cyclestain.Load(opts.Checkpoint, cyclestain.Evaluating, nil, log)
	if err != nil {
		return err
	}
	defer c.Close()

	k := c.GeneratorHEToP63.Filters / 2
	if d == cyclestain.P63ToHE {
		k = c.GeneratorP63ToHE.Filters / 2
	}
	weights, err := parseWeights(opts.Edit)
	if err != nil {
		return err
	}
	if weights == nil {
		weights = make([]float32, k)
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
		out, err := c.Edit(d, batch, weights)
		if err != nil {
			return errors.WithMessagef(err, "translating %v", name)
		}
		rgb, err := grid.Decode(c.Norm, out)
		if err != nil {
			return err
		}
		filename := outputName(opts.Output, name, "_"+d.String())
		if err = writePNG(filename, rgb); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"input": filepath.Join(f.Dir(), name), "output": filename}).Debug("translated")
	}
	log.WithFields(logrus.Fields{"images": f.Len(), "direction": d}).Info("translation done")
	return nil
}
