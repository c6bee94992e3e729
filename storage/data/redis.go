// Copyright 2021 gorse Project Authors
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

package data

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/gorse-io/ratings/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const (
	ratingKeyPrefix        = "rating/"
	ratingIndexPrefix      = "rating_index/"
	subjectRatingsPrefix   = "subject_ratings/"
	raterRatingsPrefix     = "rater_ratings/"
	subjectTypeRatingsKey  = "subject_type_ratings/"
	subjectTypesKey        = "subject_types"
	redisFieldRaterId      = "rater_id"
	redisFieldSubjectType  = "subject_type"
	redisFieldSubjectId    = "subject_id"
	redisFieldScore        = "score"
	redisFieldCreatedAt    = "created_at"
	redisStreamFetchWindow = 100
)

// Redis stores ratings in hashes indexed by sets.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

func (r *Redis) ratingKey(ratingId string) string {
	return r.Key(ratingKeyPrefix + ratingId)
}

func (r *Redis) indexKey(raterId string, subject SubjectKey) string {
	return r.Key(ratingIndexPrefix + raterId + "/" + subject.SubjectType + "/" + subject.SubjectId)
}

func (r *Redis) subjectKey(subject SubjectKey) string {
	return r.Key(subjectRatingsPrefix + subject.SubjectType + "/" + subject.SubjectId)
}

func (r *Redis) raterKey(raterId string) string {
	return r.Key(raterRatingsPrefix + raterId)
}

func (r *Redis) subjectTypeKey(subjectType string) string {
	return r.Key(subjectTypeRatingsKey + subjectType)
}

func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Purge() error {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.Key("*"), 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(iter.Err())
}

// upsertScript overwrites the score of the rating a rater gave a subject, or
// creates the rating if the index is missing or points to a deleted hash.
//
//	KEYS: index, subject ratings, rater ratings, subject type ratings, subject types
//	ARGV: rating key prefix, rating id, score, rater id, subject type, subject id, created at
var upsertScript = redis.NewScript(`
local id = redis.call('GET', KEYS[1])
if id and redis.call('EXISTS', ARGV[1] .. id) == 1 then
	redis.call('HSET', ARGV[1] .. id, 'score', ARGV[3])
	return id
end
redis.call('HSET', ARGV[1] .. ARGV[2],
	'rater_id', ARGV[4], 'subject_type', ARGV[5], 'subject_id', ARGV[6],
	'score', ARGV[3], 'created_at', ARGV[7])
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
redis.call('SADD', KEYS[4], ARGV[2])
redis.call('SADD', KEYS[5], ARGV[5])
redis.call('SET', KEYS[1], ARGV[2])
return ARGV[2]
`)

func (r *Redis) UpsertRating(ctx context.Context, rating Rating) (Rating, error) {
	subject := rating.Subject()
	ratingId, err := upsertScript.Run(ctx, r.client,
		[]string{
			r.indexKey(rating.RaterId, subject),
			r.subjectKey(subject),
			r.raterKey(rating.RaterId),
			r.subjectTypeKey(rating.SubjectType),
			r.Key(subjectTypesKey),
		},
		r.Key(ratingKeyPrefix),
		rating.RatingId,
		strconv.FormatFloat(rating.Score, 'g', -1, 64),
		rating.RaterId,
		rating.SubjectType,
		rating.SubjectId,
		rating.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		return Rating{}, errors.Trace(err)
	}
	return r.GetRating(ctx, ratingId)
}

func parseRedisRating(ratingId string, fields map[string]string) (Rating, error) {
	score, err := strconv.ParseFloat(fields[redisFieldScore], 64)
	if err != nil {
		return Rating{}, errors.Trace(err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields[redisFieldCreatedAt])
	if err != nil {
		return Rating{}, errors.Trace(err)
	}
	return Rating{
		RatingId:    ratingId,
		RaterId:     fields[redisFieldRaterId],
		SubjectType: fields[redisFieldSubjectType],
		SubjectId:   fields[redisFieldSubjectId],
		Score:       score,
		CreatedAt:   createdAt,
	}, nil
}

func (r *Redis) GetRating(ctx context.Context, ratingId string) (Rating, error) {
	fields, err := r.client.HGetAll(ctx, r.ratingKey(ratingId)).Result()
	if err != nil {
		return Rating{}, errors.Trace(err)
	}
	if len(fields) == 0 {
		return Rating{}, errors.Annotate(ErrRatingNotExist, ratingId)
	}
	return parseRedisRating(ratingId, fields)
}

// getRatings fetches ratings by ids in one round trip. Missing ids are skipped.
func (r *Redis) getRatings(ctx context.Context, ratingIds []string) ([]Rating, error) {
	pipe := r.client.Pipeline()
	commands := make([]*redis.MapStringStringCmd, len(ratingIds))
	for i, ratingId := range ratingIds {
		commands[i] = pipe.HGetAll(ctx, r.ratingKey(ratingId))
	}
	if len(ratingIds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	ratings := make([]Rating, 0, len(ratingIds))
	for i, command := range commands {
		fields := command.Val()
		if len(fields) == 0 {
			continue
		}
		rating, err := parseRedisRating(ratingIds[i], fields)
		if err != nil {
			return nil, errors.Trace(err)
		}
		ratings = append(ratings, rating)
	}
	return ratings, nil
}

func (r *Redis) GetRaterRating(ctx context.Context, raterId string, subject SubjectKey) (Rating, error) {
	ratingId, err := r.client.Get(ctx, r.indexKey(raterId, subject)).Result()
	if errors.Is(err, redis.Nil) {
		return Rating{}, errors.Annotate(ErrRatingNotExist, raterId)
	} else if err != nil {
		return Rating{}, errors.Trace(err)
	}
	return r.GetRating(ctx, ratingId)
}

func (r *Redis) DeleteRating(ctx context.Context, subject SubjectKey, ratingId string) error {
	rating, err := r.GetRating(ctx, ratingId)
	if err != nil {
		return errors.Trace(err)
	}
	if rating.Subject() != subject {
		return errors.Annotate(ErrRatingNotExist, ratingId)
	}
	return errors.Trace(r.deleteRatings(ctx, []Rating{rating}))
}

func (r *Redis) deleteRatings(ctx context.Context, ratings []Rating) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rating := range ratings {
			pipe.Del(ctx, r.ratingKey(rating.RatingId))
			pipe.Del(ctx, r.indexKey(rating.RaterId, rating.Subject()))
			pipe.SRem(ctx, r.subjectKey(rating.Subject()), rating.RatingId)
			pipe.SRem(ctx, r.raterKey(rating.RaterId), rating.RatingId)
			pipe.SRem(ctx, r.subjectTypeKey(rating.SubjectType), rating.RatingId)
		}
		return nil
	})
	return err
}

func (r *Redis) DeleteSubjectRatings(ctx context.Context, subject SubjectKey) (int, error) {
	ratings, err := r.GetSubjectRatings(ctx, subject)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(ratings) == 0 {
		return 0, nil
	}
	if err = r.deleteRatings(ctx, ratings); err != nil {
		return 0, errors.Trace(err)
	}
	return len(ratings), nil
}

func (r *Redis) GetSubjectRatings(ctx context.Context, subject SubjectKey) ([]Rating, error) {
	ratingIds, err := r.client.SMembers(ctx, r.subjectKey(subject)).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings, err := r.getRatings(ctx, ratingIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Slice(ratings, func(i, j int) bool {
		return ratings[i].RaterId < ratings[j].RaterId
	})
	return ratings, nil
}

func (r *Redis) GetRaterRatings(ctx context.Context, raterId, subjectType string) ([]Rating, error) {
	ratingIds, err := r.client.SMembers(ctx, r.raterKey(raterId)).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings, err := r.getRatings(ctx, ratingIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if subjectType != "" {
		ratings = lo.Filter(ratings, func(rating Rating, _ int) bool {
			return rating.SubjectType == subjectType
		})
	}
	SortRatings(ratings)
	return ratings, nil
}

func (r *Redis) GetSubjectScore(ctx context.Context, subject SubjectKey) (float64, int, error) {
	ratings, err := r.GetSubjectRatings(ctx, subject)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	var total float64
	for _, rating := range ratings {
		total += rating.Score
	}
	return total, len(ratings), nil
}

func (r *Redis) GetRatingStream(ctx context.Context, batchSize int, subjectType string) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		subjectTypes := []string{subjectType}
		if subjectType == "" {
			var err error
			if subjectTypes, err = r.client.SMembers(ctx, r.Key(subjectTypesKey)).Result(); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			sort.Strings(subjectTypes)
		}
		ratings := make([]Rating, 0, batchSize)
		for _, t := range subjectTypes {
			ratingIds, err := r.client.SMembers(ctx, r.subjectTypeKey(t)).Result()
			if err != nil {
				errChan <- errors.Trace(err)
				return
			}
			sort.Strings(ratingIds)
			for _, chunk := range lo.Chunk(ratingIds, redisStreamFetchWindow) {
				fetched, err := r.getRatings(ctx, chunk)
				if err != nil {
					errChan <- errors.Trace(err)
					return
				}
				for _, rating := range fetched {
					ratings = append(ratings, rating)
					if len(ratings) == batchSize {
						select {
						case ratingChan <- ratings:
						case <-ctx.Done():
							errChan <- errors.Trace(ctx.Err())
							return
						}
						ratings = make([]Rating, 0, batchSize)
					}
				}
			}
		}
		if len(ratings) > 0 {
			ratingChan <- ratings
		}
		errChan <- nil
	}()
	return ratingChan, errChan
}
