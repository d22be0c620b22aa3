package cyclestain

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gorgonia/cyclestain/explain"
	gan "github.com/gorgonia/cyclestain/gannet"
	"github.com/gorgonia/cyclestain/internal/lab"
	"github.com/gorgonia/cyclestain/mask"
	"github.com/gorgonia/cyclestain/optim"
)

// Settings configures a training run. They are stored in checkpoints, and
// networks are rebuilt from them when a checkpoint is loaded.
type Settings struct {
	Name string `mapstructure:"name"`

	// data
	DataRoot     string         `mapstructure:"data_root"`
	DataTrainHE  string         `mapstructure:"data_train_he"`
	DataTrainP63 string         `mapstructure:"data_train_p63"`
	DataTestHE   string         `mapstructure:"data_test_he"`
	DataTestP63  string         `mapstructure:"data_test_p63"`
	ImageSize    int            `mapstructure:"image_size"`
	CropSize     int            `mapstructure:"crop_size"` // 0 disables random crops
	BatchSize    int            `mapstructure:"batch_size"`
	Workers      int            `mapstructure:"workers"`
	Norm         lab.Normalizer `mapstructure:"norm"`

	// optimization
	LRGenerator     float64 `mapstructure:"lr_generator"`
	LRDiscriminator float64 `mapstructure:"lr_discriminator"`
	Beta1           float64 `mapstructure:"beta1"`
	Beta2           float64 `mapstructure:"beta2"`
	WeightDecay     float64 `mapstructure:"weight_decay"`
	GradientClip    float64 `mapstructure:"gradient_clip"`
	Epochs          int     `mapstructure:"epochs"`
	DecayEpoch      int     `mapstructure:"decay_epoch"`
	PoolSize        int     `mapstructure:"pool_size"`

	// loss weights
	LambdaAdversarial          float64 `mapstructure:"lambda_adversarial"`
	LambdaMaskAdversarialRatio float64 `mapstructure:"lambda_mask_adversarial_ratio"`
	LambdaMaskCycleRatio       float64 `mapstructure:"lambda_mask_cycle_ratio"`
	LambdaCycle                float64 `mapstructure:"lambda_cycle"`
	LambdaIdentity             float64 `mapstructure:"lambda_identity"`
	LambdaContext              float64 `mapstructure:"lambda_context"`
	LambdaCycleContext         float64 `mapstructure:"lambda_cycle_context"`

	MaskType            string `mapstructure:"mask_type"`
	ExplanationRampType string `mapstructure:"explanation_ramp_type"`

	// networks
	GeneratorDownconvFilters     int `mapstructure:"generator_downconv_filters"`
	DiscriminatorDownconvFilters int `mapstructure:"discriminator_downconv_filters"`
	NumResnetBlocks              int `mapstructure:"num_resnet_blocks"`
	Channels                     int `mapstructure:"channels"`

	// execution
	Precision     string `mapstructure:"precision"`
	Seed          int64  `mapstructure:"seed"`
	LogFrequency  int    `mapstructure:"log_frequency"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
}

// DefaultSettings returns the settings used for 256×256 stain translation.
func DefaultSettings() Settings {
	return Settings{
		Name:         "cyclestain",
		DataRoot:     "data",
		DataTrainHE:  "trainA",
		DataTrainP63: "trainB",
		DataTestHE:   "testA",
		DataTestP63:  "testB",
		ImageSize:    256,
		BatchSize:    1,
		Workers:      4,
		Norm:         lab.DefaultNormalizer(),

		LRGenerator:     0.0002,
		LRDiscriminator: 0.0002,
		Beta1:           0.5,
		Beta2:           0.999,
		WeightDecay:     0.001,
		GradientClip:    1,
		Epochs:          200,
		DecayEpoch:      100,
		PoolSize:        50,

		LambdaAdversarial:          1,
		LambdaMaskAdversarialRatio: 0.5,
		LambdaMaskCycleRatio:       0.5,
		LambdaCycle:                10,
		LambdaIdentity:             5,
		LambdaContext:              0.5,
		LambdaCycleContext:         0.5,

		MaskType:            string(mask.Luminance),
		ExplanationRampType: explain.Linear.String(),

		GeneratorDownconvFilters:     64,
		DiscriminatorDownconvFilters: 64,
		NumResnetBlocks:              9,
		Channels:                     3,

		Precision:     gan.Full.String(),
		Seed:          1337,
		LogFrequency:  100,
		CheckpointDir: "checkpoints",
	}
}

func ratio(name string, v float64) error {
	if v < 0 || v > 1 {
		return errors.Errorf("%s must be in [0, 1], got %v", name, v)
	}
	return nil
}

// Validate checks the settings. A run never starts with invalid settings.
func (s Settings) Validate() error {
	switch {
	case s.BatchSize < 1:
		return errors.Errorf("batch_size must be positive, got %d", s.BatchSize)
	case s.Workers < 0:
		return errors.Errorf("workers must be non-negative, got %d", s.Workers)
	case s.PoolSize < 0:
		return errors.Errorf("pool_size must be non-negative, got %d", s.PoolSize)
	case s.LogFrequency < 1:
		return errors.Errorf("log_frequency must be positive, got %d", s.LogFrequency)
	case s.GradientClip <= 0:
		return errors.Errorf("gradient_clip must be positive, got %v", s.GradientClip)
	case s.Channels != 3:
		return errors.Errorf("only 3 channel LAB images are supported, got %d channels", s.Channels)
	case !s.Norm.Valid():
		return errors.New("norm standard deviations must be positive")
	}
	if err := gan.CheckSize(s.ImageSize, s.ImageSize); err != nil {
		return errors.Wrap(err, "image_size")
	}
	if s.ImageSize < gan.MinDiscriminatorSize {
		return errors.Errorf("image_size must be at least %d, got %d", gan.MinDiscriminatorSize, s.ImageSize)
	}
	if s.CropSize != 0 {
		if s.CropSize > s.ImageSize {
			return errors.Errorf("crop_size %d exceeds image_size %d", s.CropSize, s.ImageSize)
		}
		if err := gan.CheckSize(s.CropSize, s.CropSize); err != nil {
			return errors.Wrap(err, "crop_size")
		}
		if s.CropSize < gan.MinDiscriminatorSize {
			return errors.Errorf("crop_size must be at least %d, got %d", gan.MinDiscriminatorSize, s.CropSize)
		}
	}
	for _, r := range []struct {
		name string
		v    float64
	}{
		{"lambda_mask_adversarial_ratio", s.LambdaMaskAdversarialRatio},
		{"lambda_mask_cycle_ratio", s.LambdaMaskCycleRatio},
	} {
		if err := ratio(r.name, r.v); err != nil {
			return err
		}
	}
	if _, err := optim.NewLinearDecay(s.Epochs, s.DecayEpoch); err != nil {
		return err
	}
	if err := s.generatorConfig().Validate(); err != nil {
		return err
	}
	if err := s.discriminatorConfig().Validate(); err != nil {
		return err
	}
	for _, conf := range []optim.NAdamConfig{s.nadam(s.LRGenerator), s.nadam(s.LRDiscriminator)} {
		if err := conf.Validate(); err != nil {
			return err
		}
	}
	if _, err := mask.New(mask.Type(s.MaskType)); err != nil {
		return err
	}
	if _, err := explain.ParseRamp(s.ExplanationRampType); err != nil {
		return err
	}
	_, err := s.execContext()
	return err
}

// Resolution is the side of the images the networks see.
func (s Settings) Resolution() int {
	if s.CropSize > 0 {
		return s.CropSize
	}
	return s.ImageSize
}

// Split returns the directory of a data split.
func (s Settings) Split(name string) string { return filepath.Join(s.DataRoot, name) }

func (s Settings) generatorConfig() gan.GeneratorConfig {
	return gan.GeneratorConfig{
		Channels:  s.Channels,
		Filters:   s.GeneratorDownconvFilters,
		ResBlocks: s.NumResnetBlocks,
	}
}

func (s Settings) discriminatorConfig() gan.DiscriminatorConfig {
	return gan.DiscriminatorConfig{
		Channels: s.Channels,
		Filters:  s.DiscriminatorDownconvFilters,
	}
}

func (s Settings) nadam(lr float64) optim.NAdamConfig {
	return optim.NAdamConfig{
		LearnRate:   lr,
		Beta1:       s.Beta1,
		Beta2:       s.Beta2,
		Eps:         1e-8,
		WeightDecay: s.WeightDecay,
	}
}

func (s Settings) execContext() (gan.ExecContext, error) {
	p, err := gan.ParsePrecision(s.Precision)
	if err != nil {
		return gan.ExecContext{}, err
	}
	return gan.ExecContext{Device: gan.CPU, Precision: p}, nil
}
