// Copyright 2020 gorse Project Authors
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

package dataset

import (
	"testing"

	"github.com/gorse-io/ratings/storage/data"
	"github.com/stretchr/testify/assert"
)

func testRatings() []data.Rating {
	return []data.Rating{
		{RaterId: "user_a", SubjectType: "food", SubjectId: "food_a", Score: 2.5},
		{RaterId: "user_a", SubjectType: "food", SubjectId: "food_b", Score: 3.5},
		{RaterId: "user_b", SubjectType: "food", SubjectId: "food_b", Score: 3.0},
		{RaterId: "user_b", SubjectType: "food", SubjectId: "food_c", Score: 1.5},
		{RaterId: "user_c", SubjectType: "food", SubjectId: "food_d", Score: 4.0},
	}
}

func TestNewRaterMatrix(t *testing.T) {
	m := NewRaterMatrix(testRatings())
	assert.Equal(t, 3, m.CountRows())
	assert.Equal(t, []string{"user_a", "user_b", "user_c"}, m.Rows())
	assert.Equal(t, []string{"food_a", "food_b", "food_c", "food_d"}, m.Columns())
	score, ok := m.Get("user_a", "food_b")
	assert.True(t, ok)
	assert.Equal(t, 3.5, score)
	_, ok = m.Get("user_a", "food_c")
	assert.False(t, ok)
	_, ok = m.Get("user_x", "food_c")
	assert.False(t, ok)
	assert.True(t, m.HasRow("user_c"))
	assert.False(t, m.HasRow("user_x"))
	assert.Equal(t, map[string]float64{"food_d": 4.0}, m.Row("user_c"))
}

func TestSharedColumns(t *testing.T) {
	m := NewRaterMatrix(testRatings())
	assert.Equal(t, []string{"food_b"}, m.SharedColumns("user_a", "user_b"))
	assert.Equal(t, []string{"food_a", "food_b"}, m.SharedColumns("user_a", "user_a"))
	assert.Empty(t, m.SharedColumns("user_a", "user_c"))
	assert.Empty(t, m.SharedColumns("user_a", "user_x"))
}

func TestTranspose(t *testing.T) {
	m := NewRaterMatrix(testRatings())
	transposed := m.Transpose()
	assert.Equal(t, NewSubjectMatrix(testRatings()), transposed)
	assert.Equal(t, []string{"food_a", "food_b", "food_c", "food_d"}, transposed.Rows())
	assert.Equal(t, []string{"user_a", "user_b"}, transposed.SharedColumns("food_b", "food_b"))
	// source matrix is untouched
	assert.Equal(t, []string{"user_a", "user_b", "user_c"}, m.Rows())
	assert.Equal(t, m, transposed.Transpose())
}

func TestSetOverwrites(t *testing.T) {
	m := NewMatrix()
	m.Set("user_a", "food_a", 1)
	m.Set("user_a", "food_a", 5)
	score, ok := m.Get("user_a", "food_a")
	assert.True(t, ok)
	assert.Equal(t, 5.0, score)
	assert.Len(t, m.Row("user_a"), 1)
}
