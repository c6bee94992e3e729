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

package ratings

import (
	"testing"

	"github.com/jaswdr/faker"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestParseAggregate(t *testing.T) {
	aggregate, err := ParseAggregate("cumulative")
	assert.NoError(t, err)
	assert.Equal(t, Cumulative, aggregate)
	aggregate, err = ParseAggregate("average")
	assert.NoError(t, err)
	assert.Equal(t, Average, aggregate)
	_, err = ParseAggregate("")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestOrderByScoreTies(t *testing.T) {
	subjects := []Subject{
		{Type: "movie", Id: "b"},
		{Type: "food", Id: "b"},
		{Type: "food", Id: "a"},
		{Type: "food", Id: "c"},
	}
	scores := map[Subject]float64{{Type: "food", Id: "c"}: 1}
	ordered := OrderByScore(subjects, func(s Subject) float64 { return scores[s] }, true)
	assert.Equal(t, []Scored[Subject]{
		{Subject{Type: "food", Id: "c"}, 1},
		{Subject{Type: "food", Id: "a"}, 0},
		{Subject{Type: "food", Id: "b"}, 0},
		{Subject{Type: "movie", Id: "b"}, 0},
	}, ordered)
	assert.Empty(t, OrderByScore([]Subject{}, func(s Subject) float64 { return 0 }, true))
}

func TestOrderByScoreRandom(t *testing.T) {
	fake := faker.New()
	subjects := make([]Subject, 100)
	scores := make(map[Subject]float64)
	for i := range subjects {
		subjects[i] = Subject{Type: "food", Id: fake.UUID().V4()}
		scores[subjects[i]] = float64(fake.IntBetween(0, 10))
	}
	score := func(s Subject) float64 { return scores[s] }

	descending := OrderByScore(subjects, score, true)
	ascending := OrderByScore(subjects, score, false)
	assert.Len(t, descending, len(subjects))
	assert.Len(t, ascending, len(subjects))
	for i := 1; i < len(subjects); i++ {
		assert.GreaterOrEqual(t, descending[i-1].Score, descending[i].Score)
		assert.LessOrEqual(t, ascending[i-1].Score, ascending[i].Score)
		if descending[i-1].Score == descending[i].Score {
			assert.Less(t, descending[i-1].Subject.Id, descending[i].Subject.Id)
		}
	}
}
