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
	"strconv"

	"github.com/gorse-io/ratings/base/log"
	"github.com/gorse-io/ratings/logics"
	"github.com/gorse-io/ratings/worker"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend subjects to a rater",
	Run: func(cmd *cobra.Command, args []string) {
		subjectType, _ := cmd.Flags().GetString("type")
		raterId, _ := cmd.Flags().GetString("rater")
		itemBased, _ := cmd.Flags().GetBool("item-based")
		n, _ := cmd.Flags().GetInt("number")
		env, err := openEnvironment(cmd)
		if err != nil {
			log.Logger().Fatal("failed to open stores", zap.Error(err))
		}
		defer env.Close()

		var scores []logics.Score
		w := worker.NewWorker(env.config, env.data, env.cache)
		if itemBased {
			scores, err = w.RecommendedItems(context.Background(), raterId, subjectType, n)
		} else {
			scores, err = w.Recommendations(context.Background(), raterId, subjectType, n)
		}
		if err != nil {
			log.Logger().Fatal("failed to recommend", zap.Error(err))
		}
		if err = renderScores(scores); err != nil {
			log.Logger().Fatal("failed to render recommendation", zap.Error(err))
		}
	},
}

var matchCommand = &cobra.Command{
	Use:   "match",
	Short: "Find raters with similar tastes",
	Run: func(cmd *cobra.Command, args []string) {
		subjectType, _ := cmd.Flags().GetString("type")
		raterId, _ := cmd.Flags().GetString("rater")
		n, _ := cmd.Flags().GetInt("number")
		env, err := openEnvironment(cmd)
		if err != nil {
			log.Logger().Fatal("failed to open stores", zap.Error(err))
		}
		defer env.Close()

		w := worker.NewWorker(env.config, env.data, env.cache)
		scores, err := w.TopMatches(context.Background(), raterId, subjectType, n)
		if err != nil {
			log.Logger().Fatal("failed to match raters", zap.Error(err))
		}
		if err = renderScores(scores); err != nil {
			log.Logger().Fatal("failed to render matches", zap.Error(err))
		}
	},
}

func renderScores(scores []logics.Score) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rank", "Id", "Score")
	for i, score := range scores {
		if err := table.Append([]string{
			strconv.Itoa(i + 1),
			score.Id,
			strconv.FormatFloat(score.Score, 'f', 6, 64),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func init() {
	for _, command := range []*cobra.Command{recommendCommand, matchCommand} {
		command.Flags().StringP("type", "t", "", "subject type")
		command.Flags().StringP("rater", "r", "", "rater id")
		command.Flags().IntP("number", "n", 10, "number of results")
		_ = command.MarkFlagRequired("type")
		_ = command.MarkFlagRequired("rater")
		rootCommand.AddCommand(command)
	}
	recommendCommand.Flags().Bool("item-based", false, "recommend from cached similar subjects")
}
