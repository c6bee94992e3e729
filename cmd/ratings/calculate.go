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
	"fmt"

	"github.com/gorse-io/ratings/base/log"
	"github.com/gorse-io/ratings/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var calculateCommand = &cobra.Command{
	Use:   "calculate",
	Short: "Calculate similar subjects of a subject type",
	Run: func(cmd *cobra.Command, args []string) {
		subjectType, _ := cmd.Flags().GetString("type")
		topN, _ := cmd.Flags().GetInt("top-n")
		env, err := openEnvironment(cmd)
		if err != nil {
			log.Logger().Fatal("failed to open stores", zap.Error(err))
		}
		defer env.Close()

		var bar *progressbar.ProgressBar
		w := worker.NewWorker(env.config, env.data, env.cache)
		err = w.CalculateSimilarItems(context.Background(), subjectType, topN, func(completed, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription(fmt.Sprintf("similar %s", subjectType)),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish())
			}
			_ = bar.Set(completed)
		})
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			log.Logger().Fatal("failed to calculate similar items", zap.Error(err))
		}
		fmt.Printf("similar items of %s updated\n", subjectType)
	},
}

func init() {
	calculateCommand.Flags().StringP("type", "t", "", "subject type")
	calculateCommand.Flags().IntP("top-n", "n", 0, "number of similar subjects kept per subject (0 uses the configured top_n)")
	_ = calculateCommand.MarkFlagRequired("type")
	rootCommand.AddCommand(calculateCommand)
}
