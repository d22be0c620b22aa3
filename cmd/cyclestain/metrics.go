package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gorgonia/cyclestain/eval"
)

type metricsFlags struct {
	Real       string
	Translated string
	Output     string
	Tag        string
	Patch      int
	Plots      bool
}

func newMetricsCmd() *cobra.Command {
	opts := &metricsFlags{}
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compare translated images with real images of the same stain",
		Long: `Pairs the images of two directories by sorted file name and reports the
Bhattacharyya distance and correlation of their LAB histograms and the patch-wise
normalized mutual information.`,
		Example: `  cyclestain metrics --real results/orig_he --translated results/p63_to_he --tag HE -o report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(opts)
		},
	}
	cmd.Flags().StringVar(&opts.Real, "real", "", "directory of real images")
	cmd.Flags().StringVar(&opts.Translated, "translated", "", "directory of translated images")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "report", "directory to write the report to")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "prefix of the report files")
	cmd.Flags().IntVar(&opts.Patch, "patch", eval.DefaultPatch, "patch size for mutual information")
	cmd.Flags().BoolVar(&opts.Plots, "plots", true, "plot the histograms of every pair")
	cmd.MarkFlagRequired("real")
	cmd.MarkFlagRequired("translated")
	return cmd
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var retVal []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
			if !e.IsDir() {
				retVal = append(retVal, filepath.Join(dir, e.Name()))
			}
		}
	}
	sort.Strings(retVal)
	return retVal, nil
}

func runMetrics(opts *metricsFlags) error {
	log := setupLogger(logLevel, logFormat)
	reals, err := listImages(opts.Real)
	if err != nil {
		return err
	}
	translated, err := listImages(opts.Translated)
	if err != nil {
		return err
	}
	n := len(reals)
	if len(translated) < n {
		n = len(translated)
	}
	if n == 0 {
		return errors.New("no image pairs to compare")
	}
	if len(reals) != len(translated) {
		log.WithFields(logrus.Fields{"real": len(reals), "translated": len(translated)}).Warn("unequal directories, extra images are ignored")
	}
	if err = os.MkdirAll(opts.Output, 0755); err != nil {
		return errors.WithStack(err)
	}
	prefix := opts.Tag
	if prefix != "" {
		prefix += "_"
	}

	results := make([]eval.Result, 0, n)
	var distances [3][]float64
	for i := 0; i < n; i++ {
		a, err := readImage(reals[i])
		if err != nil {
			return err
		}
		b, err := readImage(translated[i])
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(reals[i]), filepath.Ext(reals[i]))
		r, err := eval.Compare(name, a, b, opts.Patch)
		if err != nil {
			return err
		}
		results = append(results, r)
		for c := range distances {
			distances[c] = append(distances[c], r.Distance[c])
		}
		if opts.Plots {
			title := strings.TrimSpace(opts.Tag + " " + name)
			if err = eval.PlotHistograms(eval.ToLAB(a), eval.ToLAB(b), title, filepath.Join(opts.Output, prefix+name+"_hist.png")); err != nil {
				return err
			}
		}
	}
	summary := eval.Summarize(results)

	f, err := os.Create(filepath.Join(opts.Output, prefix+"metrics.csv"))
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	if err = eval.WriteCSV(f, append(results, summary)); err != nil {
		return err
	}
	for c, name := range eval.ChannelNames {
		filename := filepath.Join(opts.Output, prefix+"bhattacharyya_"+strings.ToLower(name)+".png")
		if err = eval.PlotDistances(distances[c], "Bhattacharyya distance - "+name, filename); err != nil {
			return err
		}
	}
	log.WithFields(logrus.Fields{
		"pairs":           n,
		"bhattacharyya_l": summary.Distance[0],
		"bhattacharyya_a": summary.Distance[1],
		"bhattacharyya_b": summary.Distance[2],
		"nmi":             summary.MutualInformation,
	}).Info("metrics done")
	return nil
}
