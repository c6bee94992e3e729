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

package worker

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/ratings/base/log"
	"github.com/gorse-io/ratings/common/parallel"
	"github.com/gorse-io/ratings/config"
	"github.com/gorse-io/ratings/dataset"
	"github.com/gorse-io/ratings/logics"
	"github.com/gorse-io/ratings/storage/cache"
	"github.com/gorse-io/ratings/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const batchSize = 10000

// ErrInvalidSubjectType is returned for an empty subject type. Ratings of
// different subject types never share a matrix.
var ErrInvalidSubjectType = errors.NotValidf("subject type")

func checkSubjectType(subjectType string) error {
	if subjectType == "" {
		return errors.Trace(ErrInvalidSubjectType)
	}
	return nil
}

// ProgressFunc reports the number of completed jobs out of the total.
type ProgressFunc func(completed, total int)

// Worker computes similar items and recommendations from ratings.
type Worker struct {
	Config      *config.Config
	DataClient  data.Database
	CacheClient cache.Database
}

func NewWorker(cfg *config.Config, dataClient data.Database, cacheClient cache.Database) *Worker {
	return &Worker{
		Config:      cfg,
		DataClient:  dataClient,
		CacheClient: cacheClient,
	}
}

// loadRatings pulls all ratings of a subject type.
func (w *Worker) loadRatings(ctx context.Context, subjectType string) ([]data.Rating, error) {
	var ratings []data.Rating
	ratingChan, errChan := w.DataClient.GetRatingStream(ctx, batchSize, subjectType)
	for batch := range ratingChan {
		ratings = append(ratings, batch...)
	}
	if err := <-errChan; err != nil {
		return nil, errors.Trace(err)
	}
	return ratings, nil
}

// CalculateSimilarItems replaces cached similar items of every rated subject of a
// subject type. Each subject keeps at most topN similar subjects. Cached items of
// subjects without ratings are removed.
func (w *Worker) CalculateSimilarItems(ctx context.Context, subjectType string, topN int, progress ProgressFunc) error {
	if err := checkSubjectType(subjectType); err != nil {
		return err
	}
	startTime := time.Now()
	if topN <= 0 {
		topN = w.Config.Recommend.TopN
	}
	sim, err := logics.Similarity(w.Config.Recommend.ItemSimilarity)
	if err != nil {
		return errors.Trace(err)
	}
	ratings, err := w.loadRatings(ctx, subjectType)
	if err != nil {
		UpdateSimilarItemsFailures.WithLabelValues(subjectType).Inc()
		return errors.Trace(err)
	}
	subjects := dataset.NewSubjectMatrix(ratings)
	owners := subjects.Rows()
	log.Logger().Info("start calculating similar items",
		log.SubjectType(subjectType),
		zap.Int("n_subjects", len(owners)),
		zap.Int("n_ratings", len(ratings)),
		zap.Int("top_n", topN),
		zap.String("similarity", w.Config.Recommend.ItemSimilarity))

	// progress tracker
	var (
		completed atomic.Int64
		mu        sync.Mutex
	)
	report := func() {
		if progress != nil {
			mu.Lock()
			defer mu.Unlock()
			progress(int(completed.Inc()), len(owners))
		}
	}

	item2item := logics.NewItemToItem(subjects, sim, topN)
	err = parallel.Parallel(ctx, len(owners), w.Config.Worker.Jobs, func(_, jobId int) error {
		defer report()
		owner := owners[jobId]
		entries := lo.Map(item2item.SimilarItems(owner), func(score logics.Score, rank int) cache.SimilarityEntry {
			return cache.SimilarityEntry{
				SubjectType:      subjectType,
				SubjectId:        owner,
				SimilarSubjectId: score.Id,
				Score:            score.Score,
				Rank:             rank,
			}
		})
		return errors.Trace(w.CacheClient.SetSimilarItems(ctx, subjectType, owner, entries))
	})
	if err != nil {
		UpdateSimilarItemsFailures.WithLabelValues(subjectType).Inc()
		log.Logger().Error("failed to calculate similar items", zap.Error(err))
		return errors.Trace(err)
	}

	// remove similar items of subjects without ratings
	cached, err := w.CacheClient.ScanSimilarOwners(ctx, subjectType)
	if err != nil {
		return errors.Trace(err)
	}
	stale := mapset.NewThreadUnsafeSet(cached...).Difference(mapset.NewThreadUnsafeSet(owners...))
	for owner := range stale.Iter() {
		if err = w.CacheClient.SetSimilarItems(ctx, subjectType, owner, nil); err != nil {
			return errors.Trace(err)
		}
	}

	if err = w.CacheClient.Set(ctx,
		cache.Time(cache.Key(cache.LastUpdateSimilarTime, subjectType), time.Now()),
		cache.Integer(cache.Key(cache.SimilarItemsTopN, subjectType), topN),
	); err != nil {
		log.Logger().Error("failed to write meta", zap.Error(err))
		return errors.Trace(err)
	}
	UpdateSimilarItemsTotal.WithLabelValues(subjectType).Set(float64(len(owners)))
	UpdateSimilarItemsSeconds.WithLabelValues(subjectType).Set(time.Since(startTime).Seconds())
	LastUpdateSimilarItemsTime.WithLabelValues(subjectType).SetToCurrentTime()
	log.Logger().Info("complete calculating similar items",
		log.SubjectType(subjectType),
		zap.Int("n_removed", stale.Cardinality()),
		zap.String("used_time", time.Since(startTime).String()))
	return nil
}

// SimilarItems returns at most n cached similar items of a subject in rank order.
// All cached items are returned if n is not positive.
func (w *Worker) SimilarItems(ctx context.Context, subjectType, subjectId string, n int) ([]cache.SimilarityEntry, error) {
	if err := checkSubjectType(subjectType); err != nil {
		return nil, err
	}
	entries, err := w.CacheClient.GetSimilarItems(ctx, subjectType, subjectId, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return entries, nil
}

// LastUpdateSimilarTime returns the time of the last similar items update of a subject type.
func (w *Worker) LastUpdateSimilarTime(ctx context.Context, subjectType string) (time.Time, error) {
	return w.CacheClient.Get(ctx, cache.Key(cache.LastUpdateSimilarTime, subjectType)).Time()
}

// RecommendedItems recommends subjects to a rater from cached similar items of the
// subjects the rater has rated.
func (w *Worker) RecommendedItems(ctx context.Context, raterId, subjectType string, n int) ([]logics.Score, error) {
	if err := checkSubjectType(subjectType); err != nil {
		return nil, err
	}
	startTime := time.Now()
	ratings, err := w.DataClient.GetRaterRatings(ctx, raterId, subjectType)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rated := make(map[string]float64, len(ratings))
	similar := make(map[string][]cache.SimilarityEntry, len(ratings))
	for _, rating := range ratings {
		rated[rating.SubjectId] = rating.Score
		entries, err := w.CacheClient.GetSimilarItems(ctx, subjectType, rating.SubjectId, 0)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(entries) == 0 {
			log.Logger().Debug("uncached subject", log.Subject(subjectType, rating.SubjectId))
		}
		similar[rating.SubjectId] = entries
	}
	scores := logics.RecommendedItems(rated, func(subjectId string) []cache.SimilarityEntry {
		return similar[subjectId]
	})
	RecommendSeconds.WithLabelValues("item_based").Observe(time.Since(startTime).Seconds())
	return truncate(scores, n), nil
}

// Recommendations recommends subjects to a rater from ratings of similar raters.
func (w *Worker) Recommendations(ctx context.Context, raterId, subjectType string, n int) ([]logics.Score, error) {
	if err := checkSubjectType(subjectType); err != nil {
		return nil, err
	}
	startTime := time.Now()
	sim, err := logics.Similarity(w.Config.Recommend.UserSimilarity)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings, err := w.loadRatings(ctx, subjectType)
	if err != nil {
		return nil, errors.Trace(err)
	}
	raters := dataset.NewRaterMatrix(ratings)
	scores := logics.Recommendations(raters, raters.Rows(), raterId, sim)
	RecommendSeconds.WithLabelValues("user_based").Observe(time.Since(startTime).Seconds())
	return truncate(scores, n), nil
}

// TopMatches returns at most n raters most similar to a rater by their ratings of a
// subject type.
func (w *Worker) TopMatches(ctx context.Context, raterId, subjectType string, n int) ([]logics.Score, error) {
	if err := checkSubjectType(subjectType); err != nil {
		return nil, err
	}
	sim, err := logics.Similarity(w.Config.Recommend.UserSimilarity)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings, err := w.loadRatings(ctx, subjectType)
	if err != nil {
		return nil, errors.Trace(err)
	}
	raters := dataset.NewRaterMatrix(ratings)
	return logics.TopMatches(raters, raters.Rows(), raterId, sim, n), nil
}

func truncate(scores []logics.Score, n int) []logics.Score {
	if n > 0 && len(scores) > n {
		return scores[:n]
	}
	return scores
}
