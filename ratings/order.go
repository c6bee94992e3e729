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
	"context"
	"sort"

	"github.com/gorse-io/ratings/storage/data"
	"github.com/juju/errors"
)

// Aggregate is the score of a subject used for ordering.
type Aggregate string

const (
	Cumulative Aggregate = "cumulative"
	Average    Aggregate = "average"
)

func ParseAggregate(s string) (Aggregate, error) {
	switch Aggregate(s) {
	case Cumulative, Average:
		return Aggregate(s), nil
	default:
		return "", errors.NotValidf("aggregate %q", s)
	}
}

// Scored is a subject with the score it is ordered by.
type Scored[T Rateable] struct {
	Subject T
	Score   float64
}

type RatedSubject = Scored[Rateable]

// OrderByScore orders subjects by score. Ties are broken by ascending subject id,
// then by ascending subject type.
func OrderByScore[T Rateable](subjects []T, score func(T) float64, descending bool) []Scored[T] {
	scored := make([]Scored[T], len(subjects))
	for i, subject := range subjects {
		scored[i] = Scored[T]{Subject: subject, Score: score(subject)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			if descending {
				return scored[i].Score > scored[j].Score
			}
			return scored[i].Score < scored[j].Score
		}
		if scored[i].Subject.SubjectId() != scored[j].Subject.SubjectId() {
			return scored[i].Subject.SubjectId() < scored[j].Subject.SubjectId()
		}
		return scored[i].Subject.SubjectType() < scored[j].Subject.SubjectType()
	})
	return scored
}

// OrderByRating orders subjects by their cumulative or average score.
func (s *Store) OrderByRating(ctx context.Context, subjects []Rateable, descending bool, aggregate Aggregate) ([]RatedSubject, error) {
	if _, err := ParseAggregate(string(aggregate)); err != nil {
		return nil, errors.Trace(err)
	}
	scores := make(map[data.SubjectKey]float64, len(subjects))
	for _, subject := range subjects {
		k := key(subject)
		if _, exist := scores[k]; exist {
			continue
		}
		var (
			score float64
			err   error
		)
		if aggregate == Average {
			score, err = s.AverageScore(ctx, subject)
		} else {
			score, err = s.CumulativeScore(ctx, subject)
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		scores[k] = score
	}
	return OrderByScore(subjects, func(subject Rateable) float64 {
		return scores[key(subject)]
	}, descending), nil
}
