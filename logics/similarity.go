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
	"math"

	"github.com/gorse-io/ratings/dataset"
	"github.com/juju/errors"
)

// SimilarityFunc measures the similarity between two rows of a matrix over the
// columns both rows have a score for. It must be symmetric and must not modify
// the matrix.
type SimilarityFunc func(m *dataset.Matrix, a, b string) float64

// Euclidean returns 1 / (1 + sum of squared differences) over shared columns.
// Rows without shared columns have similarity 0.
func Euclidean(m *dataset.Matrix, a, b string) float64 {
	shared := m.SharedColumns(a, b)
	if len(shared) == 0 {
		return 0
	}
	rowA, rowB := m.Row(a), m.Row(b)
	var sum float64
	for _, column := range shared {
		diff := rowA[column] - rowB[column]
		sum += diff * diff
	}
	return 1 / (1 + sum)
}

// Pearson returns the Pearson correlation coefficient over shared columns.
// Less than two shared columns or a constant row gives similarity 0.
func Pearson(m *dataset.Matrix, a, b string) float64 {
	shared := m.SharedColumns(a, b)
	if len(shared) < 2 {
		return 0
	}
	rowA, rowB := m.Row(a), m.Row(b)
	n := float64(len(shared))
	var meanA, meanB float64
	constantA, constantB := true, true
	for _, column := range shared {
		x, y := rowA[column], rowB[column]
		meanA += x
		meanB += y
		constantA = constantA && x == rowA[shared[0]]
		constantB = constantB && y == rowB[shared[0]]
	}
	// the mean of a constant row may be off by an ulp
	if constantA || constantB {
		return 0
	}
	meanA /= n
	meanB /= n
	var numerator, sqSumA, sqSumB float64
	for _, column := range shared {
		diffA, diffB := rowA[column]-meanA, rowB[column]-meanB
		numerator += diffA * diffB
		sqSumA += diffA * diffA
		sqSumB += diffB * diffB
	}
	denominator := math.Sqrt(sqSumA * sqSumB)
	if denominator == 0 || math.IsNaN(denominator) {
		return 0
	}
	return max(-1, min(1, numerator/denominator))
}

const (
	EuclideanName = "euclidean"
	PearsonName   = "pearson"
)

// Similarity returns the similarity function by name.
func Similarity(name string) (SimilarityFunc, error) {
	switch name {
	case EuclideanName:
		return Euclidean, nil
	case PearsonName:
		return Pearson, nil
	default:
		return nil, errors.NotSupportedf("similarity %q", name)
	}
}
