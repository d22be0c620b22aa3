package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gorgonia/cyclestain"
	gan "github.com/gorgonia/cyclestain/gannet"
)

type graphFlags struct {
	Network string
	Output  string
}

func newGraphCmd() *cobra.Command {
	opts := &graphFlags{}
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Write the graphviz rendering of a network's forward graph",
		Example: `  cyclestain graph --network generator -o generator.dot && dot -Tsvg generator.dot > generator.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts)
		},
	}
	cmd.Flags().StringVar(&opts.Network, "network", "generator", "generator or discriminator")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "file to write, stdout if empty")
	return cmd
}

func runGraph(opts *graphFlags) error {
	log := setupLogger(logLevel, logFormat)
	conf, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	s := conf.Settings
	s.BatchSize = 1
	c, err := cyclestain.New(s, nil, log)
	if err != nil {
		return err
	}
	defer c.Close()

	r := s.Resolution()
	b := gan.NewBuilder(c.Context())
	img := b.Input("img", 1, s.Channels, r, r)
	var label string
	switch opts.Network {
	case "generator":
		mask := b.Input("mask", 1, 1, r, r)
		c.GeneratorHEToP63.Fwd(b, img, mask, nil)
		label = c.GeneratorHEToP63.Name()
	case "discriminator":
		c.DiscriminatorP63.Fwd(b, img)
		label = c.DiscriminatorP63.Name()
	default:
		return errors.Errorf("unknown network %q", opts.Network)
	}
	if err = b.Err(); err != nil {
		return err
	}
	g, err := gan.DOT(b.Graph(), label)
	if err != nil {
		return err
	}

	out := os.Stdout
	if opts.Output != "" {
		if out, err = os.Create(opts.Output); err != nil {
			return errors.WithStack(err)
		}
		defer out.Close()
	}
	_, err = out.WriteString(g.String())
	return errors.WithStack(err)
}
