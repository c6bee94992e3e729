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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorse-io/ratings/config"
	"github.com/gorse-io/ratings/logics"
	"github.com/gorse-io/ratings/ratings"
	"github.com/gorse-io/ratings/storage"
	"github.com/gorse-io/ratings/storage/cache"
	"github.com/gorse-io/ratings/storage/data"
	"github.com/gorse-io/ratings/worker"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/suite"
)

const apiKey = "test_api_key"

type ServerTestSuite struct {
	suite.Suite
	*RestServer
	cacheServer *miniredis.Miniredis
	dataClient  data.Database
	cacheClient cache.Database
	handler     http.Handler
}

func (suite *ServerTestSuite) SetupSuite() {
	var err error
	suite.dataClient, err = data.Open(fmt.Sprintf("sqlite://%s/data.db", suite.T().TempDir()), "")
	suite.NoError(err)
	suite.NoError(suite.dataClient.Init())
	suite.cacheServer, err = miniredis.Run()
	suite.NoError(err)
	suite.cacheClient, err = cache.Open(storage.RedisPrefix+suite.cacheServer.Addr(), "")
	suite.NoError(err)
	suite.NoError(suite.cacheClient.Init())

	cfg := config.GetDefaultConfig()
	cfg.Server.APIKey = apiKey
	store, err := ratings.NewStore(suite.dataClient, "score >= 0 && score <= 5")
	suite.NoError(err)
	suite.RestServer = NewRestServer(cfg, store, worker.NewWorker(cfg, suite.dataClient, suite.cacheClient))
	suite.handler = suite.Handler()
}

func (suite *ServerTestSuite) TearDownSuite() {
	suite.NoError(suite.dataClient.Close())
	suite.NoError(suite.cacheClient.Close())
	suite.cacheServer.Close()
}

func (suite *ServerTestSuite) SetupTest() {
	suite.NoError(suite.dataClient.Purge())
	suite.NoError(suite.cacheClient.Purge())
	suite.similarCache.DeleteAll()
}

func (suite *ServerTestSuite) marshal(v interface{}) string {
	s, err := json.Marshal(v)
	suite.NoError(err)
	return string(s)
}

func (suite *ServerTestSuite) rate(raterId, subjectId string, score float64) {
	apitest.New().
		Handler(suite.handler).
		Put(fmt.Sprintf("/api/rating/food/%s/%s", subjectId, raterId)).
		Header("X-API-Key", apiKey).
		JSON(ScoreRequest{Score: score}).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
}

func (suite *ServerTestSuite) TestAuth() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/api/ratings/food/food_a").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/ratings/food/food_a").
		Header("X-API-Key", "wrong_key").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/ratings/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(`[]`).
		End()
}

func (suite *ServerTestSuite) TestRating() {
	t := suite.T()
	ctx := context.Background()
	suite.rate("user_a", "food_a", 2)
	suite.rate("user_a", "food_a", 3)
	suite.rate("user_b", "food_a", 5)
	suite.rate("user_a", "food_b", 4)

	// rater score
	apitest.New().
		Handler(suite.handler).
		Get("/api/rating/food/food_a/user_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(`{"Score":3}`).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/rating/food/food_a/user_c").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusNotFound).
		End()
	// invalid score
	apitest.New().
		Handler(suite.handler).
		Put("/api/rating/food/food_a/user_c").
		Header("X-API-Key", apiKey).
		JSON(ScoreRequest{Score: 6}).
		Expect(t).
		Status(http.StatusBadRequest).
		End()
	apitest.New().
		Handler(suite.handler).
		Put("/api/rating/food/food_a/user_c").
		Header("X-API-Key", apiKey).
		ContentType("application/json").
		Body(`{"Score":`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()

	// list ratings
	subjectRatings, err := suite.Store.Ratings(ctx, ratings.Subject{Type: "food", Id: "food_a"})
	suite.NoError(err)
	suite.Len(subjectRatings, 2)
	apitest.New().
		Handler(suite.handler).
		Get("/api/ratings/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(subjectRatings)).
		End()
	raterRatings, err := suite.Store.RaterRatings(ctx, "user_a", "food")
	suite.NoError(err)
	suite.Len(raterRatings, 2)
	apitest.New().
		Handler(suite.handler).
		Get("/api/rater/user_a/ratings").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"subject-type": "food"}).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(raterRatings)).
		End()

	// scores
	apitest.New().
		Handler(suite.handler).
		Get("/api/score/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(`{"Cumulative":8,"Average":4}`).
		End()
	apitest.New().
		Handler(suite.handler).
		Post("/api/order/food").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"descending": "true", "aggregate": "cumulative"}).
		JSON([]string{"food_c", "food_b", "food_a"}).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal([]OrderedSubject{{"food_a", 8}, {"food_b", 4}, {"food_c", 0}})).
		End()
	apitest.New().
		Handler(suite.handler).
		Post("/api/order/food").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"descending": "false"}).
		JSON([]string{"food_c", "food_b", "food_a"}).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal([]OrderedSubject{{"food_c", 0}, {"food_b", 4}, {"food_a", 8}})).
		End()
	// cumulative score by default
	apitest.New().
		Handler(suite.handler).
		Post("/api/order/food").
		Header("X-API-Key", apiKey).
		JSON([]string{"food_b", "food_a"}).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal([]OrderedSubject{{"food_a", 8}, {"food_b", 4}})).
		End()
	apitest.New().
		Handler(suite.handler).
		Post("/api/order/food").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"descending": "false", "aggregate": "average"}).
		JSON([]string{"food_c", "food_b", "food_a"}).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal([]OrderedSubject{{"food_c", 0}, {"food_a", 4}, {"food_b", 4}})).
		End()
	apitest.New().
		Handler(suite.handler).
		Post("/api/order/food").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"aggregate": "median"}).
		JSON([]string{"food_a"}).
		Expect(t).
		Status(http.StatusBadRequest).
		End()

	// remove a rating
	apitest.New().
		Handler(suite.handler).
		Delete("/api/rating/food/food_b/" + subjectRatings[0].RatingId).
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusNotFound).
		End()
	apitest.New().
		Handler(suite.handler).
		Delete("/api/rating/food/food_a/" + subjectRatings[0].RatingId).
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(`{"RowAffected":1}`).
		End()
	// clear ratings
	apitest.New().
		Handler(suite.handler).
		Delete("/api/ratings/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(`{"RowAffected":1}`).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/score/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(`{"Cumulative":0,"Average":0}`).
		End()
}

func (suite *ServerTestSuite) TestRecommend() {
	t := suite.T()
	critics := map[string]map[string]float64{
		"user_a": {"food_a": 2.5, "food_b": 3.5, "food_c": 3.0, "food_d": 3.5, "food_e": 2.5, "food_f": 3.0},
		"user_b": {"food_a": 3.0, "food_b": 3.5, "food_c": 1.5, "food_d": 5.0, "food_e": 3.5, "food_f": 3.0},
		"user_c": {"food_a": 2.5, "food_b": 3.0, "food_d": 3.5, "food_f": 4.0},
		"user_d": {"food_b": 3.5, "food_c": 3.0, "food_d": 4.0, "food_e": 2.5, "food_f": 4.5},
		"user_e": {"food_a": 3.0, "food_b": 4.0, "food_c": 2.0, "food_d": 3.0, "food_e": 2.0, "food_f": 3.0},
		"user_f": {"food_a": 3.0, "food_b": 4.0, "food_d": 5.0, "food_e": 3.5, "food_f": 3.0},
		"user_g": {"food_b": 4.5, "food_d": 4.0, "food_e": 1.0},
	}
	for rater, scores := range critics {
		for food, score := range scores {
			suite.rate(rater, food, score)
		}
	}
	ctx := context.Background()

	// similar items are empty before calculation
	apitest.New().
		Handler(suite.handler).
		Get("/api/similar/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(`[]`).
		End()
	apitest.New().
		Handler(suite.handler).
		Post("/api/similar/food").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"n": "3"}).
		Expect(t).
		Status(http.StatusOK).
		Body(`{"RowAffected":6}`).
		End()
	entries, err := suite.Worker.SimilarItems(ctx, "food", "food_a", 2)
	suite.NoError(err)
	suite.Len(entries, 2)
	suite.Equal("food_e", entries[0].SimilarSubjectId)
	apitest.New().
		Handler(suite.handler).
		Get("/api/similar/food/food_a").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"n": "2"}).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(entries)).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/similar/food/food_a").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"n": "two"}).
		Expect(t).
		Status(http.StatusBadRequest).
		End()

	// user-based
	scores, err := suite.Worker.Recommendations(ctx, "user_g", "food", 10)
	suite.NoError(err)
	suite.Equal([]string{"food_f", "food_a", "food_c"}, []string{scores[0].Id, scores[1].Id, scores[2].Id})
	apitest.New().
		Handler(suite.handler).
		Get("/api/recommend/food/user_g").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(scores)).
		End()
	// item-based
	scores, err = suite.Worker.RecommendedItems(ctx, "user_g", "food", 10)
	suite.NoError(err)
	suite.NotEmpty(scores)
	apitest.New().
		Handler(suite.handler).
		Get("/api/recommend/food/user_g/items").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(scores)).
		End()
	// matches
	matches, err := suite.Worker.TopMatches(ctx, "user_g", "food", 3)
	suite.NoError(err)
	suite.Equal([]string{"user_a", "user_e", "user_d"}, []string{matches[0].Id, matches[1].Id, matches[2].Id})
	apitest.New().
		Handler(suite.handler).
		Get("/api/match/food/user_g").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"n": "3"}).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(matches)).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/match/food/user_g").
		Header("X-API-Key", apiKey).
		QueryParams(map[string]string{"n": "0"}).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal([]logics.Score{})).
		End()
}

func (suite *ServerTestSuite) TestSimilarItemsCache() {
	t := suite.T()
	ctx := context.Background()
	entries := []cache.SimilarityEntry{{SubjectType: "food", SubjectId: "food_a", SimilarSubjectId: "food_b", Score: 1}}
	suite.NoError(suite.cacheClient.SetSimilarItems(ctx, "food", "food_a", entries))
	apitest.New().
		Handler(suite.handler).
		Get("/api/similar/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(entries)).
		End()
	// stale reads are served within the cache TTL
	suite.NoError(suite.cacheClient.SetSimilarItems(ctx, "food", "food_a", nil))
	apitest.New().
		Handler(suite.handler).
		Get("/api/similar/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(entries)).
		End()
	suite.similarCache.DeleteAll()
	apitest.New().
		Handler(suite.handler).
		Get("/api/similar/food/food_a").
		Header("X-API-Key", apiKey).
		Expect(t).
		Status(http.StatusOK).
		Body(`[]`).
		End()
}

func (suite *ServerTestSuite) TestDocsAndMetrics() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/apidocs.json").
		Expect(t).
		Status(http.StatusOK).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/metrics").
		Expect(t).
		Status(http.StatusOK).
		End()
}

func (suite *ServerTestSuite) TestServe() {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	server := NewRestServer(config.GetDefaultConfig(), suite.Store, suite.Worker)
	server.Config.Server.Host = "127.0.0.1"
	server.Config.Server.Port = 0
	suite.NoError(server.Serve(ctx))
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
