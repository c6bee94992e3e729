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
)

// Score is an id with its score.
type Score struct {
	Id    string
	Score float64
}

// SortScores sorts scores by descending score and breaks ties by ascending id.
func SortScores(scores []Score) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Id < scores[j].Id
	})
}

// TopMatches ranks candidates by similarity to the pivot and returns at most limit
// of them. The pivot itself is never returned and candidates of equal similarity
// keep their input order.
func TopMatches(m *dataset.Matrix, candidates []string, pivot string, sim SimilarityFunc, limit int) []Score {
	if limit <= 0 {
		return []Score{}
	}
	scores := make([]Score, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate == pivot {
			continue
		}
		scores = append(scores, Score{Id: candidate, Score: sim(m, pivot, candidate)})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}
