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

	"github.com/gorse-io/ratings/storage/cache"
	"github.com/samber/lo"
)

// RecommendedItems predicts scores of unrated subjects from the scores a rater gave
// and the cached similar items of the rated subjects. Similar items with
// non-positive similarity are ignored.
func RecommendedItems(rated map[string]float64, similar func(subjectId string) []cache.SimilarityEntry) []Score {
	sources := lo.Keys(rated)
	sort.Strings(sources)
	totals := make(map[string]float64)
	weights := make(map[string]float64)
	for _, source := range sources {
		score := rated[source]
		for _, entry := range similar(source) {
			if _, exist := rated[entry.SimilarSubjectId]; exist {
				continue
			}
			if entry.Score <= 0 {
				continue
			}
			totals[entry.SimilarSubjectId] += entry.Score * score
			weights[entry.SimilarSubjectId] += entry.Score
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
