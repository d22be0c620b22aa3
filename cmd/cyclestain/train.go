package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gorgonia/cyclestain"
	"github.com/gorgonia/cyclestain/tracking"
)

type trainFlags struct {
	Resume  string
	Serve   string
	History string
}

func newTrainCmd() *cobra.Command {
	opts := &trainFlags{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the generators and discriminators",
		Example: `  # Train from scratch with settings from cyclestain.yaml
  cyclestain train

  # Resume and serve metrics, the image stream and the loss feed
  cyclestain train --resume checkpoints/cyclestain_40.ckpt --serve :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Resume, "resume", "", "checkpoint to resume training from")
	cmd.Flags().StringVar(&opts.Serve, "serve", "", "address to serve /metrics, /stream and /ws on")
	cmd.Flags().StringVar(&opts.History, "history", "", "write the logged loss history to this CSV file when done")
	return cmd
}

func runTrain(ctx context.Context, opts *trainFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := setupLogger(logLevel, logFormat)
	conf, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	run, err := tracking.Setup(conf.Tracking, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := run.Close(); err != nil {
			log.WithError(err).Warn("closing sinks")
		}
	}()
	entry := log.WithField("run", run.ID)

	var c *cyclestain.Controller
	if opts.Resume != "" {
		c, err = cyclestain.Load(opts.Resume, cyclestain.Training, run, entry)
	} else {
		c, err = cyclestain.New(conf.Settings, run, entry)
	}
	if err != nil {
		return err
	}
	defer c.Close()
	if run.Archiver != nil {
		c.SetArchiver(run.Archiver)
	}
	if c.CheckpointDir != "" {
		if err = os.MkdirAll(c.CheckpointDir, 0755); err != nil {
			return errors.WithStack(err)
		}
	}

	// data comes from the current config even when resuming, so a run can be moved
	d, err := openData(conf.Settings, entry)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Serve != "" {
		srv := serve(opts.Serve, run, entry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				entry.WithError(err).Error("server shutdown failed")
			}
		}()
	}

	entry.WithFields(logrus.Fields{
		"epoch":  c.Epoch,
		"epochs": c.Epochs,
		"he":     d.trainHE.Folder().Len(),
		"p63":    d.trainP63.Folder().Len(),
	}).Info("training")
	testHE, testP63 := d.samples()
	err = c.Learn(ctx, d.trainHE, d.trainP63, testHE, testP63)
	if opts.History != "" {
		if herr := c.Dump(opts.History); herr != nil {
			entry.WithError(herr).Warn("writing history")
		}
	}
	if errors.Cause(err) == context.Canceled {
		entry.WithField("epoch", c.Epoch).Info("training interrupted")
		return nil
	}
	return err
}

// serve exposes whichever live sinks the run has.
func serve(addr string, run *tracking.Run, log logrus.FieldLogger) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","run":"` + run.ID + `"}`))
	}).Methods("GET")
	if run.Metrics != nil {
		router.Handle("/metrics", run.Metrics.Handler()).Methods("GET")
	}
	if run.Stream != nil {
		router.Handle("/stream", run.Stream).Methods("GET")
	}
	if run.Hub != nil {
		router.Handle("/ws", run.Hub)
	}

	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		log.WithField("address", addr).Info("serving")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
		}
	}()
	return srv
}
