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

package logics

import (
	"sort"

	"github.com/gorse-io/ratings/dataset"
	"github.com/samber/lo"
)

// Recommendations predicts scores of subjects the target has not rated from the
// scores of other raters weighted by their similarity to the target. Raters with
// non-positive similarity are ignored. m is a matrix of raters by subjects.
func Recommendations(m *dataset.Matrix, candidates []string, target string, sim SimilarityFunc) []Score {
	rated := m.Row(target)
	totals := make(map[string]float64)
	weights := make(map[string]float64)
	for _, candidate := range candidates {
		if candidate == target {
			continue
		}
		weight := sim(m, target, candidate)
		if weight <= 0 {
			continue
		}
		row := m.Row(candidate)
		subjects := lo.Keys(row)
		sort.Strings(subjects)
		for _, subject := range subjects {
			if _, exist := rated[subject]; exist {
				continue
			}
			totals[subject] += weight * row[subject]
			weights[subject] += weight
		}
	}
	scores := make([]Score, 0, len(totals))
	for subject, total := range totals {
		if weights[subject] == 0 {
			continue
		}
		scores = append(scores, Score{Id: subject, Score: total / weights[subject]})
	}
	SortScores(scores)
	return scores
}
