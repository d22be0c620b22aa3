package main

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/gorgonia/cyclestain"
	"github.com/gorgonia/cyclestain/tracking"
)

const envPrefix = "CYCLESTAIN"

// config is the whole configuration file. Settings live at the top level,
// sinks under "tracking".
type config struct {
	cyclestain.Settings `mapstructure:",squash"`
	Tracking            tracking.Config `mapstructure:"tracking"`
}

func defaultConfig() config {
	return config{
		Settings: cyclestain.DefaultSettings(),
		Tracking: tracking.DefaultConfig(),
	}
}

// setDefaults registers every key of def with v so that environment variables
// can override keys missing from the config file.
func setDefaults(v *viper.Viper, def config) error {
	var m map[string]interface{}
	if err := mapstructure.Decode(def, &m); err != nil {
		return errors.WithStack(err)
	}
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, val := range m {
			key := prefix + k
			if sub, ok := val.(map[string]interface{}); ok {
				walk(key+".", sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", m)
	return nil
}

// loadConfig merges defaults, the config file read into v and CYCLESTAIN_
// environment variables, and validates the result.
func loadConfig(v *viper.Viper) (config, error) {
	conf := defaultConfig()
	if err := setDefaults(v, conf); err != nil {
		return conf, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.Unmarshal(&conf); err != nil {
		return conf, errors.Wrap(err, "decoding config")
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}
