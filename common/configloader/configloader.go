package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load fills cfgPtr from defaults, environment and an optional YAML file.
// envPrefix is the environment variable prefix, e.g. "ARCHIVER":
// the key stream.url is then read from ARCHIVER_STREAM_URL.
func Load(path, envPrefix string, defaults map[string]interface{}, cfgPtr interface{}) error {
	v := viper.New()

	// Step 1: defaults. Every key must be known to viper for AutomaticEnv
	// to pick up overrides on Unmarshal.
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	// Step 2: environment override
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Step 3: read file (if provided)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}

	// Step 4: decode
	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	// Step 5: validate if possible
	if val, ok := cfgPtr.(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}

	return nil
}
