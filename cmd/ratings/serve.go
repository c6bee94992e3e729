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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorse-io/ratings/base/log"
	"github.com/gorse-io/ratings/ratings"
	"github.com/gorse-io/ratings/server"
	"github.com/gorse-io/ratings/worker"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the RESTful API server",
	Run: func(cmd *cobra.Command, args []string) {
		otel.SetErrorHandler(log.GetErrorHandler())
		env, err := openEnvironment(cmd)
		if err != nil {
			log.Logger().Fatal("failed to open stores", zap.Error(err))
		}
		defer env.Close()
		store, err := ratings.NewStore(env.data, env.config.Recommend.ScorePolicy)
		if err != nil {
			log.Logger().Fatal("failed to create rating store", zap.Error(err))
		}
		w := worker.NewWorker(env.config, env.data, env.cache)
		restServer := server.NewRestServer(env.config, store, w)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		group, ctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return restServer.Serve(ctx)
		})
		group.Go(func() error {
			return w.Schedule(ctx)
		})
		if err = group.Wait(); err != nil {
			log.Logger().Error("server stopped", zap.Error(err))
			return
		}
		log.Logger().Info("stop ratings server successfully")
	},
}

func init() {
	rootCommand.AddCommand(serveCommand)
}
