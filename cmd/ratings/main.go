// Copyright 2024 gorse Project Authors
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

package main

import (
	"fmt"
	"os"

	"github.com/gorse-io/ratings/base/log"
	"github.com/gorse-io/ratings/cmd/version"
	"github.com/gorse-io/ratings/config"
	"github.com/gorse-io/ratings/storage/cache"
	"github.com/gorse-io/ratings/storage/data"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "ratings",
	Short: "Rate anything and recommend by collaborative filtering.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
	},
}

// environment holds stores opened from the configuration.
type environment struct {
	config *config.Config
	data   data.Database
	cache  cache.Database
}

func (env *environment) Close() {
	if err := env.data.Close(); err != nil {
		log.Logger().Error("failed to close data store", zap.Error(err))
	}
	if err := env.cache.Close(); err != nil {
		log.Logger().Error("failed to close cache store", zap.Error(err))
	}
}

func openEnvironment(cmd *cobra.Command) (*environment, error) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load config")
	}
	dataClient, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to connect data store %s", log.RedactDBURL(conf.Database.DataStore))
	}
	if err = dataClient.Init(); err != nil {
		return nil, errors.Annotate(err, "failed to init data store")
	}
	cacheClient, err := cache.Open(conf.Database.CacheStore, conf.Database.TablePrefix)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to connect cache store %s", log.RedactDBURL(conf.Database.CacheStore))
	}
	if err = cacheClient.Init(); err != nil {
		return nil, errors.Annotate(err, "failed to init cache store")
	}
	log.Logger().Info("connect stores",
		zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)),
		zap.String("cache_store", log.RedactDBURL(conf.Database.CacheStore)))
	return &environment{config: conf, data: dataClient, cache: cacheClient}, nil
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.AddCommand(versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
