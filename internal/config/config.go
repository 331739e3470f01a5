package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load fills config (a pointer to a struct) from three layers, later layers
// winning: the struct's zero/default values, the YAML file, then environment
// variables (dots replaced by underscores, so redis.profile.prefix is
// REDIS_PROFILE_PREFIX). A missing file is not an error; containerized
// deployments often run from environment alone.
func Load(file string, config any) error {
	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		err := v.ReadInConfig()
		if err != nil && !errors.As(err, new(*fs.PathError)) {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
