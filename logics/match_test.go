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

	"github.com/stretchr/testify/assert"
)

func TestTopMatches(t *testing.T) {
	m := critics()
	scores := TopMatches(m, m.Rows(), "user_g", Pearson, 3)
	assert.Len(t, scores, 3)
	assert.Equal(t, "user_a", scores[0].Id)
	assert.InDelta(t, 0.9912407071619299, scores[0].Score, delta)
	assert.Equal(t, "user_e", scores[1].Id)
	assert.InDelta(t, 0.9244734516419049, scores[1].Score, delta)
	assert.Equal(t, "user_d", scores[2].Id)
	assert.InDelta(t, 0.8934051474415647, scores[2].Score, delta)

	// match subjects
	subjects := m.Transpose()
	scores = TopMatches(subjects, subjects.Rows(), "food_d", Pearson, 5)
	assert.Equal(t, []string{"food_e", "food_a", "food_b", "food_f", "food_c"}, ids(scores))
	assert.InDelta(t, 0.6579516949597695, scores[0].Score, delta)
	assert.InDelta(t, -0.42289003161103106, scores[4].Score, delta)
}

func TestTopMatchesLimit(t *testing.T) {
	m := critics()
	assert.Empty(t, TopMatches(m, m.Rows(), "user_g", Pearson, 0))
	assert.Empty(t, TopMatches(m, m.Rows(), "user_g", Pearson, -1))
	// fewer candidates than limit
	scores := TopMatches(m, m.Rows(), "user_g", Pearson, 100)
	assert.Len(t, scores, 6)
	assert.NotContains(t, ids(scores), "user_g")
}

func TestTopMatchesTies(t *testing.T) {
	m := critics()
	// candidates without shared columns keep input order
	m.Set("user_x", "food_z", 1)
	m.Set("user_y", "food_z", 2)
	scores := TopMatches(m, []string{"user_y", "user_x"}, "user_g", Euclidean, 2)
	assert.Equal(t, []string{"user_y", "user_x"}, ids(scores))
	assert.Equal(t, []float64{0, 0}, []float64{scores[0].Score, scores[1].Score})
}

func TestSortScores(t *testing.T) {
	scores := []Score{{"b", 1}, {"c", 2}, {"a", 1}}
	SortScores(scores)
	assert.Equal(t, []Score{{"c", 2}, {"a", 1}, {"b", 1}}, scores)
}

func ids(scores []Score) []string {
	result := make([]string, len(scores))
	for i, score := range scores {
		result[i] = score.Id
	}
	return result
}
