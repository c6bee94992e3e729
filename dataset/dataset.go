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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/ratings/storage/data"
	"github.com/samber/lo"
)

// Matrix is a sparse matrix of scores. Similarity is measured between rows over
// the columns both rows have a score for.
type Matrix struct {
	rows map[string]map[string]float64
}

func NewMatrix() *Matrix {
	return &Matrix{rows: make(map[string]map[string]float64)}
}

// NewRaterMatrix creates a matrix with a row per rater and a column per subject id.
func NewRaterMatrix(ratings []data.Rating) *Matrix {
	m := NewMatrix()
	for _, rating := range ratings {
		m.Set(rating.RaterId, rating.SubjectId, rating.Score)
	}
	return m
}

// NewSubjectMatrix creates a matrix with a row per subject id and a column per rater.
func NewSubjectMatrix(ratings []data.Rating) *Matrix {
	m := NewMatrix()
	for _, rating := range ratings {
		m.Set(rating.SubjectId, rating.RaterId, rating.Score)
	}
	return m
}

// Set sets the score of a cell. The last score wins.
func (m *Matrix) Set(row, column string, score float64) {
	cells, exist := m.rows[row]
	if !exist {
		cells = make(map[string]float64)
		m.rows[row] = cells
	}
	cells[column] = score
}

func (m *Matrix) Get(row, column string) (float64, bool) {
	score, exist := m.rows[row][column]
	return score, exist
}

// Row returns the cells of a row. The returned map must not be modified.
func (m *Matrix) Row(row string) map[string]float64 {
	return m.rows[row]
}

func (m *Matrix) HasRow(row string) bool {
	_, exist := m.rows[row]
	return exist
}

func (m *Matrix) CountRows() int {
	return len(m.rows)
}

// Rows returns row names in ascending order.
func (m *Matrix) Rows() []string {
	rows := lo.Keys(m.rows)
	sort.Strings(rows)
	return rows
}

// Columns returns column names of all rows in ascending order.
func (m *Matrix) Columns() []string {
	columns := mapset.NewThreadUnsafeSet[string]()
	for _, cells := range m.rows {
		for column := range cells {
			columns.Add(column)
		}
	}
	result := columns.ToSlice()
	sort.Strings(result)
	return result
}

// SharedColumns returns columns scored by both rows in ascending order.
func (m *Matrix) SharedColumns(a, b string) []string {
	rowA, rowB := m.rows[a], m.rows[b]
	if len(rowA) == 0 || len(rowB) == 0 {
		return nil
	}
	shared := mapset.NewThreadUnsafeSetFromMapKeys(rowA).Intersect(mapset.NewThreadUnsafeSetFromMapKeys(rowB)).ToSlice()
	sort.Strings(shared)
	return shared
}

// Transpose swaps rows and columns.
func (m *Matrix) Transpose() *Matrix {
	t := NewMatrix()
	for row, cells := range m.rows {
		for column, score := range cells {
			t.Set(column, row, score)
		}
	}
	return t
}
