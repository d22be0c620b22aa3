package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gorgonia/cyclestain"
	"github.com/gorgonia/cyclestain/dataset"
)

func trainOptions(s cyclestain.Settings) dataset.Options {
	return dataset.Options{
		Size: s.ImageSize,
		Crop: s.CropSize,
		Norm: s.Norm,
		Seed: s.Seed,
	}
}

func testOptions(s cyclestain.Settings) dataset.Options {
	o := trainOptions(s)
	o.Crop = 0
	if s.CropSize > 0 {
		o.Size = s.CropSize
	}
	return o
}

type data struct {
	trainHE, trainP63 *dataset.Loader
	testHE, testP63   *dataset.Folder
}

// openData opens the four splits under the data root. Missing test splits only
// disable image logging.
func openData(s cyclestain.Settings, log logrus.FieldLogger) (*data, error) {
	d := new(data)
	var err error
	if d.trainHE, err = openLoader(s, s.DataTrainHE, s.Seed, log); err != nil {
		return nil, err
	}
	if d.trainP63, err = openLoader(s, s.DataTrainP63, s.Seed+1, log); err != nil {
		return nil, err
	}
	if d.testHE, err = dataset.Open(s.Split(s.DataTestHE), testOptions(s), log); err != nil {
		log.WithError(err).Warn("no held-out H&E images")
		d.testHE = nil
	}
	if d.testP63, err = dataset.Open(s.Split(s.DataTestP63), testOptions(s), log); err != nil {
		log.WithError(err).Warn("no held-out P63 images")
		d.testP63 = nil
	}
	return d, nil
}

func openLoader(s cyclestain.Settings, split string, seed int64, log logrus.FieldLogger) (*dataset.Loader, error) {
	opts := trainOptions(s)
	opts.Seed = seed
	f, err := dataset.Open(s.Split(split), opts, log)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %v", split)
	}
	return dataset.NewLoader(f, s.BatchSize, s.Workers, true, seed)
}

// samples returns the held-out sets, or nils when either one is missing.
func (d *data) samples() (he, p63 cyclestain.Samples) {
	if d.testHE == nil || d.testP63 == nil {
		return nil, nil
	}
	return d.testHE, d.testP63
}

func (d *data) Close() error {
	d.trainHE.Close()
	d.trainP63.Close()
	return nil
}
