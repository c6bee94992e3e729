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
	"testing"

	"github.com/gorse-io/ratings/storage/cache"
	"github.com/stretchr/testify/assert"
)

// similarItems builds a lookup of precomputed similar subjects.
func similarItems(sim SimilarityFunc, topN int) func(string) []cache.SimilarityEntry {
	subjects := critics().Transpose()
	item2item := NewItemToItem(subjects, sim, topN)
	lookup := make(map[string][]cache.SimilarityEntry)
	for _, subject := range subjects.Rows() {
		for i, score := range item2item.SimilarItems(subject) {
			lookup[subject] = append(lookup[subject], cache.SimilarityEntry{
				SubjectType:      "food",
				SubjectId:        subject,
				SimilarSubjectId: score.Id,
				Score:            score.Score,
				Rank:             i,
			})
		}
	}
	return func(subjectId string) []cache.SimilarityEntry {
		return lookup[subjectId]
	}
}

func TestRecommendedItemsEuclidean(t *testing.T) {
	m := critics()
	similar := similarItems(Euclidean, 10)
	scores := RecommendedItems(m.Row("user_g"), similar)
	assert.Equal(t, []string{"food_f", "food_c", "food_a"}, ids(scores))
	assert.InDelta(t, 3.182634730538922, scores[0].Score, delta)
	assert.InDelta(t, 2.5983318700614575, scores[1].Score, delta)
	assert.InDelta(t, 2.4730878186968837, scores[2].Score, delta)

	scores = RecommendedItems(m.Row("user_c"), similar)
	assert.Equal(t, []string{"food_c", "food_e"}, ids(scores))
	assert.InDelta(t, 3.137388345384942, scores[0].Score, delta)
	assert.InDelta(t, 2.9614175977653634, scores[1].Score, delta)

	// rated everything
	assert.Empty(t, RecommendedItems(m.Row("user_a"), similar))
	// rated nothing
	assert.Empty(t, RecommendedItems(nil, similar))
}

func TestRecommendedItemsPearson(t *testing.T) {
	m := critics()
	similar := similarItems(Pearson, 10)
	scores := RecommendedItems(m.Row("user_g"), similar)
	assert.Equal(t, []string{"food_a"}, ids(scores))
	assert.InDelta(t, 3.610031066802182, scores[0].Score, delta)

	scores = RecommendedItems(m.Row("user_c"), similar)
	assert.Equal(t, []string{"food_c", "food_e"}, ids(scores))
	assert.InDelta(t, 4.0, scores[0].Score, delta)
	assert.InDelta(t, 3.1637361366111816, scores[1].Score, delta)

	scores = RecommendedItems(m.Row("user_f"), similar)
	assert.Equal(t, []string{"food_c"}, ids(scores))
	assert.InDelta(t, 3.0, scores[0].Score, delta)
	assert.Empty(t, RecommendedItems(m.Row("user_e"), similar))
}
