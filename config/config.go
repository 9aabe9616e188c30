// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/spgemm/base/log"
	"github.com/gorse-io/spgemm/common/sparse"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the engine.
type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Log    LogConfig    `mapstructure:"log"`
}

// EngineConfig is the configuration of the multiply kernel.
type EngineConfig struct {
	// Workers is the number of goroutines computing rows. Zero means the number of CPUs.
	Workers int `mapstructure:"workers" validate:"gte=0"`
	// MinRowsPerWorker is the smallest number of rows handed to one worker.
	MinRowsPerWorker int `mapstructure:"min_rows_per_worker" validate:"gt=0"`
	// MaxBytes limits the bytes held by result buffers of one engine. Zero means unlimited.
	MaxBytes int64 `mapstructure:"max_bytes" validate:"gte=0"`
	// Coalesce merges duplicate coordinate entries when operands are converted.
	Coalesce    bool               `mapstructure:"coalesce"`
	MergePolicy sparse.MergePolicy `mapstructure:"merge_policy" validate:"gte=0,lte=4"`
	// PoolWorkspace recycles row accumulators between calls.
	PoolWorkspace bool `mapstructure:"pool_workspace"`
}

type LogConfig struct {
	Debug      bool   `mapstructure:"debug"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

// Options converts the configuration to logger options.
func (c *LogConfig) Options() log.Options {
	return log.Options{
		Debug:      c.Debug,
		Path:       c.Path,
		MaxSize:    c.MaxSize,
		MaxAge:     c.MaxAge,
		MaxBackups: c.MaxBackups,
	}
}

func GetDefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:          0,
			MinRowsPerWorker: 64,
			MaxBytes:         0,
			Coalesce:         true,
			MergePolicy:      sparse.MergeSum,
			PoolWorkspace:    true,
		},
		Log: LogConfig{
			MaxSize: 100,
		},
	}
}

func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [engine]
	v.SetDefault("engine.workers", defaultConfig.Engine.Workers)
	v.SetDefault("engine.min_rows_per_worker", defaultConfig.Engine.MinRowsPerWorker)
	v.SetDefault("engine.max_bytes", defaultConfig.Engine.MaxBytes)
	v.SetDefault("engine.coalesce", defaultConfig.Engine.Coalesce)
	v.SetDefault("engine.merge_policy", defaultConfig.Engine.MergePolicy.String())
	v.SetDefault("engine.pool_workspace", defaultConfig.Engine.PoolWorkspace)
	// [log]
	v.SetDefault("log.debug", defaultConfig.Log.Debug)
	v.SetDefault("log.path", defaultConfig.Log.Path)
	v.SetDefault("log.max_size", defaultConfig.Log.MaxSize)
	v.SetDefault("log.max_age", defaultConfig.Log.MaxAge)
	v.SetDefault("log.max_backups", defaultConfig.Log.MaxBackups)
}

type configBinding struct {
	key string
	env string
}

func bindEnv(v *viper.Viper) error {
	bindings := []configBinding{
		{"engine.workers", "SPGEMM_WORKERS"},
		{"engine.min_rows_per_worker", "SPGEMM_MIN_ROWS_PER_WORKER"},
		{"engine.max_bytes", "SPGEMM_MAX_BYTES"},
		{"engine.coalesce", "SPGEMM_COALESCE"},
		{"engine.merge_policy", "SPGEMM_MERGE_POLICY"},
		{"engine.pool_workspace", "SPGEMM_POOL_WORKSPACE"},
		{"log.debug", "SPGEMM_LOG_DEBUG"},
		{"log.path", "SPGEMM_LOG_PATH"},
	}
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a TOML file. Environment variables override
// values in the file. An empty path loads defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	if err := bindEnv(v); err != nil {
		return nil, errors.Trace(err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.TextUnmarshallerHookFunc())); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}
