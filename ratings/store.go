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
	"math"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"github.com/gorse-io/ratings/base/log"
	"github.com/gorse-io/ratings/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = data.ErrRatingNotExist
	ErrInvalidScore = errors.NotValidf("score")
	ErrInvalidRater = errors.NotValidf("rater id")
)

// Rateable is anything that could be rated.
type Rateable interface {
	SubjectType() string
	SubjectId() string
}

// Subject is a rateable identified by its type and id.
type Subject struct {
	Type string `json:"SubjectType"`
	Id   string `json:"SubjectId"`
}

func (s Subject) SubjectType() string {
	return s.Type
}

func (s Subject) SubjectId() string {
	return s.Id
}

func key(subject Rateable) data.SubjectKey {
	return data.SubjectKey{SubjectType: subject.SubjectType(), SubjectId: subject.SubjectId()}
}

// Store keeps ratings of subjects given by raters.
type Store struct {
	database data.Database
	policy   *vm.Program
}

// NewStore creates a rating store. Scores are checked against the score policy, a
// boolean expression over score. An empty policy accepts every finite score.
func NewStore(database data.Database, scorePolicy string) (*Store, error) {
	store := &Store{database: database}
	if scorePolicy != "" {
		var err error
		store.policy, err = expr.Compile(scorePolicy, expr.Env(map[string]any{"score": 0.0}), expr.AsBool())
		if err != nil {
			return nil, errors.Annotate(err, "invalid score policy")
		}
	}
	return store, nil
}

func (s *Store) Database() data.Database {
	return s.database
}

func (s *Store) checkScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return errors.Annotatef(ErrInvalidScore, "%v", score)
	}
	if s.policy == nil {
		return nil
	}
	accepted, err := expr.Run(s.policy, map[string]any{"score": score})
	if err != nil {
		return errors.Trace(err)
	}
	if !accepted.(bool) {
		return errors.Annotatef(ErrInvalidScore, "%v", score)
	}
	return nil
}

// Rate inserts a rating or replaces the score of the existing rating of the rater.
func (s *Store) Rate(ctx context.Context, raterId string, subject Rateable, score float64) (data.Rating, error) {
	if raterId == "" {
		return data.Rating{}, errors.Trace(ErrInvalidRater)
	}
	if err := s.checkScore(score); err != nil {
		RejectedScoresTotal.Inc()
		return data.Rating{}, err
	}
	start := time.Now()
	rating, err := s.database.UpsertRating(ctx, data.Rating{
		RatingId:    uuid.NewString(),
		RaterId:     raterId,
		SubjectType: subject.SubjectType(),
		SubjectId:   subject.SubjectId(),
		Score:       score,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return data.Rating{}, errors.Trace(err)
	}
	RateSeconds.Observe(time.Since(start).Seconds())
	RateTotal.Inc()
	return rating, nil
}

// Remove deletes a rating of the subject. ErrNotFound is returned if the rating
// does not exist or belongs to another subject.
func (s *Store) Remove(ctx context.Context, subject Rateable, ratingId string) error {
	if err := s.database.DeleteRating(ctx, key(subject), ratingId); err != nil {
		return errors.Trace(err)
	}
	RemoveTotal.Inc()
	return nil
}

// Clear deletes all ratings of the subject and returns the number of deleted ratings.
func (s *Store) Clear(ctx context.Context, subject Rateable) (int, error) {
	count, err := s.database.DeleteSubjectRatings(ctx, key(subject))
	if err != nil {
		return 0, errors.Trace(err)
	}
	log.Logger().Debug("clear ratings",
		log.Subject(subject.SubjectType(), subject.SubjectId()),
		zap.Int("count", count))
	RemoveTotal.Add(float64(count))
	return count, nil
}

func (s *Store) Ratings(ctx context.Context, subject Rateable) ([]data.Rating, error) {
	ratings, err := s.database.GetSubjectRatings(ctx, key(subject))
	return ratings, errors.Trace(err)
}

// RaterRatings returns ratings given by a rater. Ratings of all subject types are
// returned if subjectType is empty.
func (s *Store) RaterRatings(ctx context.Context, raterId, subjectType string) ([]data.Rating, error) {
	ratings, err := s.database.GetRaterRatings(ctx, raterId, subjectType)
	return ratings, errors.Trace(err)
}

// RaterScore returns the score given by a rater to a subject or nil if unrated.
func (s *Store) RaterScore(ctx context.Context, raterId string, subject Rateable) (*float64, error) {
	rating, err := s.database.GetRaterRating(ctx, raterId, key(subject))
	if errors.Is(err, errors.NotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return &rating.Score, nil
}

// CumulativeScore returns the sum of scores of a subject.
func (s *Store) CumulativeScore(ctx context.Context, subject Rateable) (float64, error) {
	total, _, err := s.database.GetSubjectScore(ctx, key(subject))
	if err != nil {
		return 0, errors.Trace(err)
	}
	return total, nil
}

// AverageScore returns the mean score of a subject, or 0 if it has no ratings.
func (s *Store) AverageScore(ctx context.Context, subject Rateable) (float64, error) {
	total, count, err := s.database.GetSubjectScore(ctx, key(subject))
	if err != nil {
		return 0, errors.Trace(err)
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}
