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

package data

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) TearDownSuite() {
	err := suite.Database.Close()
	suite.NoError(err)
}

func (suite *baseTestSuite) SetupTest() {
	err := suite.Database.Ping()
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) TearDownTest() {
	err := suite.Database.Purge()
	suite.NoError(err)
}

func newRating(raterId, subjectType, subjectId string, score float64) Rating {
	return Rating{
		RatingId:    uuid.NewString(),
		RaterId:     raterId,
		SubjectType: subjectType,
		SubjectId:   subjectId,
		Score:       score,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (suite *baseTestSuite) upsert(raterId, subjectType, subjectId string, score float64) Rating {
	rating, err := suite.Database.UpsertRating(context.Background(), newRating(raterId, subjectType, subjectId, score))
	suite.NoError(err)
	return rating
}

func (suite *baseTestSuite) TestUpsertRating() {
	ctx := context.Background()
	first := suite.upsert("user_a", "food", "food_a", 2.5)
	suite.Equal("user_a", first.RaterId)
	suite.Equal("food", first.SubjectType)
	suite.Equal("food_a", first.SubjectId)
	suite.Equal(2.5, first.Score)
	suite.Equal(2026, first.CreatedAt.Year())

	// overwrite score
	second := suite.upsert("user_a", "food", "food_a", 4.0)
	suite.Equal(first.RatingId, second.RatingId)
	suite.Equal(4.0, second.Score)
	ratings, err := suite.Database.GetSubjectRatings(ctx, SubjectKey{"food", "food_a"})
	suite.NoError(err)
	suite.Len(ratings, 1)
	suite.Equal(4.0, ratings[0].Score)

	// get rating
	rating, err := suite.Database.GetRating(ctx, first.RatingId)
	suite.NoError(err)
	suite.Equal(second.Score, rating.Score)
	_, err = suite.Database.GetRating(ctx, "unknown")
	suite.True(errors.Is(err, errors.NotFound))

	// get rater rating
	rating, err = suite.Database.GetRaterRating(ctx, "user_a", SubjectKey{"food", "food_a"})
	suite.NoError(err)
	suite.Equal(first.RatingId, rating.RatingId)
	_, err = suite.Database.GetRaterRating(ctx, "user_b", SubjectKey{"food", "food_a"})
	suite.True(errors.Is(err, errors.NotFound))
	_, err = suite.Database.GetRaterRating(ctx, "user_a", SubjectKey{"movie", "food_a"})
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *baseTestSuite) TestDeleteRating() {
	ctx := context.Background()
	a := suite.upsert("user_a", "food", "food_a", 2.5)
	b := suite.upsert("user_b", "food", "food_a", 3.0)
	c := suite.upsert("user_a", "food", "food_b", 3.5)

	// rating of another subject
	err := suite.Database.DeleteRating(ctx, SubjectKey{"food", "food_a"}, c.RatingId)
	suite.True(errors.Is(err, errors.NotFound))
	_, err = suite.Database.GetRating(ctx, c.RatingId)
	suite.NoError(err)
	// unknown rating
	err = suite.Database.DeleteRating(ctx, SubjectKey{"food", "food_a"}, "unknown")
	suite.True(errors.Is(err, errors.NotFound))

	err = suite.Database.DeleteRating(ctx, SubjectKey{"food", "food_a"}, a.RatingId)
	suite.NoError(err)
	ratings, err := suite.Database.GetSubjectRatings(ctx, SubjectKey{"food", "food_a"})
	suite.NoError(err)
	suite.Equal([]string{b.RatingId}, lo.Map(ratings, func(r Rating, _ int) string { return r.RatingId }))

	// rate again after removal
	again := suite.upsert("user_a", "food", "food_a", 1.0)
	suite.NotEqual(a.RatingId, again.RatingId)
	suite.Equal(1.0, again.Score)
}

func (suite *baseTestSuite) TestDeleteSubjectRatings() {
	ctx := context.Background()
	suite.upsert("user_a", "food", "food_a", 2.5)
	suite.upsert("user_b", "food", "food_a", 3.0)
	suite.upsert("user_a", "food", "food_b", 3.5)
	suite.upsert("user_a", "movie", "food_a", 1.5)

	count, err := suite.Database.DeleteSubjectRatings(ctx, SubjectKey{"food", "food_a"})
	suite.NoError(err)
	suite.Equal(2, count)
	ratings, err := suite.Database.GetSubjectRatings(ctx, SubjectKey{"food", "food_a"})
	suite.NoError(err)
	suite.Empty(ratings)
	ratings, err = suite.Database.GetRaterRatings(ctx, "user_a", "")
	suite.NoError(err)
	suite.Len(ratings, 2)

	// nothing to delete
	count, err = suite.Database.DeleteSubjectRatings(ctx, SubjectKey{"food", "food_a"})
	suite.NoError(err)
	suite.Zero(count)
}

func (suite *baseTestSuite) TestGetRaterRatings() {
	ctx := context.Background()
	suite.upsert("user_a", "food", "food_b", 3.5)
	suite.upsert("user_a", "food", "food_a", 2.5)
	suite.upsert("user_a", "movie", "movie_a", 1.5)
	suite.upsert("user_b", "food", "food_a", 3.0)

	ratings, err := suite.Database.GetRaterRatings(ctx, "user_a", "food")
	suite.NoError(err)
	suite.Equal([]string{"food_a", "food_b"}, lo.Map(ratings, func(r Rating, _ int) string { return r.SubjectId }))
	ratings, err = suite.Database.GetRaterRatings(ctx, "user_a", "")
	suite.NoError(err)
	suite.Equal([]string{"food_a", "food_b", "movie_a"}, lo.Map(ratings, func(r Rating, _ int) string { return r.SubjectId }))
	ratings, err = suite.Database.GetRaterRatings(ctx, "user_c", "")
	suite.NoError(err)
	suite.Empty(ratings)
}

func (suite *baseTestSuite) TestGetSubjectScore() {
	ctx := context.Background()
	total, count, err := suite.Database.GetSubjectScore(ctx, SubjectKey{"food", "food_a"})
	suite.NoError(err)
	suite.Zero(total)
	suite.Zero(count)

	suite.upsert("user_a", "food", "food_a", 2.5)
	suite.upsert("user_b", "food", "food_a", 3.0)
	suite.upsert("user_c", "food", "food_b", 5.0)
	total, count, err = suite.Database.GetSubjectScore(ctx, SubjectKey{"food", "food_a"})
	suite.NoError(err)
	suite.InDelta(5.5, total, 1e-9)
	suite.Equal(2, count)
}

func (suite *baseTestSuite) TestGetRatingStream() {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		suite.upsert("user_"+strconv.Itoa(i), "food", "food_"+strconv.Itoa(i%3), float64(i))
	}
	suite.upsert("user_0", "movie", "movie_0", 1)

	ratingChan, errChan := suite.Database.GetRatingStream(ctx, 3, "food")
	var ratings []Rating
	for batch := range ratingChan {
		suite.LessOrEqual(len(batch), 3)
		ratings = append(ratings, batch...)
	}
	suite.NoError(<-errChan)
	suite.Len(ratings, 10)
	for _, rating := range ratings {
		suite.Equal("food", rating.SubjectType)
		i, err := strconv.Atoi(rating.RaterId[len("user_"):])
		suite.NoError(err)
		suite.Equal("food_"+strconv.Itoa(i%3), rating.SubjectId)
		suite.Equal(float64(i), rating.Score)
	}

	// all subject types
	ratingChan, errChan = suite.Database.GetRatingStream(ctx, 100, "")
	ratings = nil
	for batch := range ratingChan {
		ratings = append(ratings, batch...)
	}
	suite.NoError(<-errChan)
	suite.Len(ratings, 11)
}
