// Copyright 2021 gorse Project Authors
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
	"time"

	"github.com/expr-lang/expr"
	"github.com/go-playground/validator/v10"
	"github.com/gorse-io/ratings/storage"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	SimilarityEuclidean = "euclidean"
	SimilarityPearson   = "pearson"
)

// Config is the configuration for the ratings service.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required,store"`
	CacheStore  string `mapstructure:"cache_store" validate:"required,store"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// ServerConfig is the configuration for the REST server.
type ServerConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port" validate:"gte=0"`
	APIKey   string        `mapstructure:"api_key"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

// WorkerConfig is the configuration for similarity jobs.
type WorkerConfig struct {
	Jobs          int           `mapstructure:"jobs" validate:"gt=0"`
	RefreshPeriod time.Duration `mapstructure:"refresh_period" validate:"gte=0"`
	RefreshTypes  []string      `mapstructure:"refresh_types" validate:"dive,required"`
	MaxRetries    uint          `mapstructure:"max_retries"`
}

// RecommendConfig is the configuration for similarity metrics and recommendations.
type RecommendConfig struct {
	TopN           int    `mapstructure:"top_n" validate:"gt=0"`
	ItemSimilarity string `mapstructure:"item_similarity" validate:"oneof=euclidean pearson"`
	UserSimilarity string `mapstructure:"user_similarity" validate:"oneof=euclidean pearson"`
	// ScorePolicy is a boolean expression over `score`, e.g. `score >= 1 && score <= 5`.
	ScorePolicy string `mapstructure:"score_policy" validate:"score_policy"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore:  "sqlite://ratings.db",
			CacheStore: "sqlite://ratings.db",
		},
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8087,
			CacheTTL: 10 * time.Second,
		},
		Worker: WorkerConfig{
			Jobs:       1,
			MaxRetries: 3,
		},
		Recommend: RecommendConfig{
			TopN:           10,
			ItemSimilarity: SimilarityEuclidean,
			UserSimilarity: SimilarityPearson,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	viper.SetDefault("database.cache_store", defaultConfig.Database.CacheStore)
	// [server]
	viper.SetDefault("server.host", defaultConfig.Server.Host)
	viper.SetDefault("server.port", defaultConfig.Server.Port)
	viper.SetDefault("server.cache_ttl", defaultConfig.Server.CacheTTL)
	// [worker]
	viper.SetDefault("worker.jobs", defaultConfig.Worker.Jobs)
	viper.SetDefault("worker.max_retries", defaultConfig.Worker.MaxRetries)
	// [recommend]
	viper.SetDefault("recommend.top_n", defaultConfig.Recommend.TopN)
	viper.SetDefault("recommend.item_similarity", defaultConfig.Recommend.ItemSimilarity)
	viper.SetDefault("recommend.user_similarity", defaultConfig.Recommend.UserSimilarity)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads configuration from toml file. Environment variables override
// the file and an empty path loads defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	// set default config
	setDefault()

	// bind environment bindings
	bindings := []configBinding{
		{"database.data_store", "RATINGS_DATA_STORE"},
		{"database.cache_store", "RATINGS_CACHE_STORE"},
		{"database.table_prefix", "RATINGS_TABLE_PREFIX"},
		{"server.host", "RATINGS_SERVER_HOST"},
		{"server.port", "RATINGS_SERVER_PORT"},
		{"server.api_key", "RATINGS_SERVER_API_KEY"},
		{"worker.jobs", "RATINGS_WORKER_JOBS"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// load config file
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// unmarshal config file
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("store", func(fl validator.FieldLevel) bool {
		return storage.IsSupported(fl.Field().String())
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterValidation("score_policy", func(fl validator.FieldLevel) bool {
		policy := fl.Field().String()
		if policy == "" {
			return true
		}
		_, err := expr.Compile(policy, expr.Env(map[string]any{"score": 0.0}), expr.AsBool())
		return err == nil
	}); err != nil {
		return errors.Trace(err)
	}
	return validate.Struct(config)
}
