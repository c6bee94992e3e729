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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/ratings/common/heap"
	"github.com/gorse-io/ratings/dataset"
	"github.com/samber/lo"
)

// ItemToItem finds similar subjects in a matrix of subjects by raters.
type ItemToItem struct {
	subjects *dataset.Matrix
	raters   *dataset.Matrix
	sim      SimilarityFunc
	topN     int
}

func NewItemToItem(subjects *dataset.Matrix, sim SimilarityFunc, topN int) *ItemToItem {
	return &ItemToItem{
		subjects: subjects,
		raters:   subjects.Transpose(),
		sim:      sim,
		topN:     topN,
	}
}

// Candidates returns subjects sharing at least one rater with the subject.
func (i *ItemToItem) Candidates(subject string) []string {
	candidates := mapset.NewThreadUnsafeSet[string]()
	for rater := range i.subjects.Row(subject) {
		for candidate := range i.raters.Row(rater) {
			if candidate != subject {
				candidates.Add(candidate)
			}
		}
	}
	result := candidates.ToSlice()
	sort.Strings(result)
	return result
}

// SimilarItems returns the top n most similar subjects in descending order of
// similarity. Ties are broken by ascending id.
func (i *ItemToItem) SimilarItems(subject string) []Score {
	filter := heap.NewTopKFilter[string, float64](i.topN)
	for _, candidate := range i.Candidates(subject) {
		filter.Push(candidate, i.sim(i.subjects, subject, candidate))
	}
	return lo.Map(filter.PopAll(), func(elem heap.Elem[string, float64], _ int) Score {
		return Score{Id: elem.Value, Score: elem.Weight}
	})
}

// SimilarItems returns the top n subjects most similar to a subject of m, a matrix
// of subjects by raters.
func SimilarItems(m *dataset.Matrix, subject string, sim SimilarityFunc, topN int) []Score {
	return NewItemToItem(m, sim, topN).SimilarItems(subject)
}
