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
	"fmt"
	"net/http"
	"strconv"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/gorse-io/ratings/base/log"
	"github.com/gorse-io/ratings/config"
	"github.com/gorse-io/ratings/logics"
	"github.com/gorse-io/ratings/ratings"
	"github.com/gorse-io/ratings/storage/cache"
	"github.com/gorse-io/ratings/storage/data"
	"github.com/gorse-io/ratings/worker"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

// RestServer implements a REST-ful API server.
type RestServer struct {
	Config     *config.Config
	Store      *ratings.Store
	Worker     *worker.Worker
	WebService *restful.WebService

	similarCache *ttlcache.Cache[string, []cache.SimilarityEntry]
}

func NewRestServer(cfg *config.Config, store *ratings.Store, w *worker.Worker) *RestServer {
	return &RestServer{
		Config:     cfg,
		Store:      store,
		Worker:     w,
		WebService: new(restful.WebService),
		similarCache: ttlcache.New[string, []cache.SimilarityEntry](
			ttlcache.WithTTL[string, []cache.SimilarityEntry](cfg.Server.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, []cache.SimilarityEntry](),
		),
	}
}

type Success struct {
	RowAffected int
}

type ScoreRequest struct {
	Score float64
}

type RaterScore struct {
	Score float64
}

type SubjectScore struct {
	Cumulative float64
	Average    float64
}

type OrderedSubject struct {
	SubjectId string
	Score     float64
}

// Handler returns the HTTP handler serving the REST API, its OpenAPI document and metrics.
func (s *RestServer) Handler() http.Handler {
	s.CreateWebService()
	container := restful.NewContainer()
	container.Add(s.WebService)
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle("/metrics", promhttp.Handler())
	return container
}

// RequestIdFilter tags each response with a request id.
func RequestIdFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter("X-Request-ID")
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set("X-Request-ID", requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	startTime := time.Now()
	chain.ProcessFilter(req, resp)
	RequestSecondsVec.WithLabelValues(req.Request.Method, req.SelectedRoutePath()).
		Observe(time.Since(startTime).Seconds())
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()))
}

func (s *RestServer) AuthFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.auth(req, resp) {
		chain.ProcessFilter(req, resp)
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(otelrestful.OTelFilter("ratings"))
	ws.Filter(RequestIdFilter)
	ws.Filter(LogFilter)
	ws.Filter(s.AuthFilter)

	/* Ratings */

	ws.Route(ws.PUT("/rating/{subject-type}/{subject-id}/{rater-id}").To(s.rate).
		Doc("Rate a subject.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of the subject").DataType("string")).
		Param(ws.PathParameter("subject-id", "identifier of the subject").DataType("string")).
		Param(ws.PathParameter("rater-id", "identifier of the rater").DataType("string")).
		Reads(ScoreRequest{}).
		Writes(data.Rating{}))
	ws.Route(ws.GET("/rating/{subject-type}/{subject-id}/{rater-id}").To(s.getRaterScore).
		Doc("Get the score given by a rater to a subject.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of the subject").DataType("string")).
		Param(ws.PathParameter("subject-id", "identifier of the subject").DataType("string")).
		Param(ws.PathParameter("rater-id", "identifier of the rater").DataType("string")).
		Writes(RaterScore{}))
	ws.Route(ws.DELETE("/rating/{subject-type}/{subject-id}/{rating-id}").To(s.removeRating).
		Doc("Remove a rating of a subject.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of the subject").DataType("string")).
		Param(ws.PathParameter("subject-id", "identifier of the subject").DataType("string")).
		Param(ws.PathParameter("rating-id", "identifier of the rating").DataType("string")).
		Writes(Success{}))
	ws.Route(ws.GET("/ratings/{subject-type}/{subject-id}").To(s.getRatings).
		Doc("Get ratings of a subject.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of the subject").DataType("string")).
		Param(ws.PathParameter("subject-id", "identifier of the subject").DataType("string")).
		Writes([]data.Rating{}))
	ws.Route(ws.DELETE("/ratings/{subject-type}/{subject-id}").To(s.clearRatings).
		Doc("Remove all ratings of a subject.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of the subject").DataType("string")).
		Param(ws.PathParameter("subject-id", "identifier of the subject").DataType("string")).
		Writes(Success{}))
	ws.Route(ws.GET("/rater/{rater-id}/ratings").To(s.getRaterRatings).
		Doc("Get ratings given by a rater.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("rater-id", "identifier of the rater").DataType("string")).
		Param(ws.QueryParameter("subject-type", "type of rated subjects").DataType("string")).
		Writes([]data.Rating{}))
	ws.Route(ws.GET("/score/{subject-type}/{subject-id}").To(s.getSubjectScore).
		Doc("Get the cumulative and average score of a subject.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of the subject").DataType("string")).
		Param(ws.PathParameter("subject-id", "identifier of the subject").DataType("string")).
		Writes(SubjectScore{}))
	ws.Route(ws.POST("/order/{subject-type}").To(s.orderByRating).
		Doc("Order subjects by their scores.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of subjects").DataType("string")).
		Param(ws.QueryParameter("descending", "order by descending scores").DataType("boolean")).
		Param(ws.QueryParameter("aggregate", "cumulative or average").DataType("string")).
		Reads([]string{}).
		Writes([]OrderedSubject{}))

	/* Similar items */

	ws.Route(ws.GET("/similar/{subject-type}/{subject-id}").To(s.getSimilarItems).
		Doc("Get similar subjects of a subject.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"similar"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of the subject").DataType("string")).
		Param(ws.PathParameter("subject-id", "identifier of the subject").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned subjects").DataType("integer")).
		Writes([]cache.SimilarityEntry{}))
	ws.Route(ws.POST("/similar/{subject-type}").To(s.calculateSimilarItems).
		Consumes("*/*").
		Doc("Calculate similar subjects of every subject of a type.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"similar"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of subjects").DataType("string")).
		Param(ws.QueryParameter("n", "number of similar subjects kept per subject").DataType("integer")).
		Writes(Success{}))

	/* Recommendation */

	ws.Route(ws.GET("/match/{subject-type}/{rater-id}").To(s.getTopMatches).
		Doc("Get raters with similar tastes.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of rated subjects").DataType("string")).
		Param(ws.PathParameter("rater-id", "identifier of the rater").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned raters").DataType("integer")).
		Writes([]logics.Score{}))
	ws.Route(ws.GET("/recommend/{subject-type}/{rater-id}").To(s.getRecommendations).
		Doc("Recommend subjects from ratings of similar raters.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of subjects").DataType("string")).
		Param(ws.PathParameter("rater-id", "identifier of the rater").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned subjects").DataType("integer")).
		Writes([]logics.Score{}))
	ws.Route(ws.GET("/recommend/{subject-type}/{rater-id}/items").To(s.getRecommendedItems).
		Doc("Recommend subjects from similar subjects of rated subjects.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("subject-type", "type of subjects").DataType("string")).
		Param(ws.PathParameter("rater-id", "identifier of the rater").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned subjects").DataType("integer")).
		Writes([]logics.Score{}))
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

// ParseBool parses booleans from the query parameter.
func ParseBool(request *restful.Request, name string, fallback bool) (value bool, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.ParseBool(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

func subject(request *restful.Request) ratings.Subject {
	return ratings.Subject{
		Type: request.PathParameter("subject-type"),
		Id:   request.PathParameter("subject-id"),
	}
}

func (s *RestServer) rate(request *restful.Request, response *restful.Response) {
	var body ScoreRequest
	if err := request.ReadEntity(&body); err != nil {
		BadRequest(response, err)
		return
	}
	rating, err := s.Store.Rate(request.Request.Context(), request.PathParameter("rater-id"), subject(request), body.Score)
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, rating)
}

func (s *RestServer) getRaterScore(request *restful.Request, response *restful.Response) {
	score, err := s.Store.RaterScore(request.Request.Context(), request.PathParameter("rater-id"), subject(request))
	if err != nil {
		InternalServerError(response, err)
		return
	}
	if score == nil {
		PageNotFound(response, errors.NotFoundf("rating of %s", request.PathParameter("rater-id")))
		return
	}
	Ok(response, RaterScore{Score: *score})
}

func (s *RestServer) removeRating(request *restful.Request, response *restful.Response) {
	if err := s.Store.Remove(request.Request.Context(), subject(request), request.PathParameter("rating-id")); err != nil {
		Error(response, err)
		return
	}
	Ok(response, Success{RowAffected: 1})
}

func (s *RestServer) getRatings(request *restful.Request, response *restful.Response) {
	result, err := s.Store.Ratings(request.Request.Context(), subject(request))
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, result)
}

func (s *RestServer) clearRatings(request *restful.Request, response *restful.Response) {
	count, err := s.Store.Clear(request.Request.Context(), subject(request))
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, Success{RowAffected: count})
}

func (s *RestServer) getRaterRatings(request *restful.Request, response *restful.Response) {
	result, err := s.Store.RaterRatings(request.Request.Context(),
		request.PathParameter("rater-id"), request.QueryParameter("subject-type"))
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, result)
}

func (s *RestServer) getSubjectScore(request *restful.Request, response *restful.Response) {
	ctx := request.Request.Context()
	cumulative, err := s.Store.CumulativeScore(ctx, subject(request))
	if err != nil {
		InternalServerError(response, err)
		return
	}
	average, err := s.Store.AverageScore(ctx, subject(request))
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, SubjectScore{Cumulative: cumulative, Average: average})
}

func (s *RestServer) orderByRating(request *restful.Request, response *restful.Response) {
	descending, err := ParseBool(request, "descending", true)
	if err != nil {
		BadRequest(response, err)
		return
	}
	aggregate, err := ratings.ParseAggregate(lo.CoalesceOrEmpty(request.QueryParameter("aggregate"), string(ratings.Cumulative)))
	if err != nil {
		BadRequest(response, err)
		return
	}
	var subjectIds []string
	if err = request.ReadEntity(&subjectIds); err != nil {
		BadRequest(response, err)
		return
	}
	subjectType := request.PathParameter("subject-type")
	subjects := lo.Map(subjectIds, func(subjectId string, _ int) ratings.Rateable {
		return ratings.Subject{Type: subjectType, Id: subjectId}
	})
	ordered, err := s.Store.OrderByRating(request.Request.Context(), subjects, descending, aggregate)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, lo.Map(ordered, func(rated ratings.RatedSubject, _ int) OrderedSubject {
		return OrderedSubject{SubjectId: rated.Subject.SubjectId(), Score: rated.Score}
	}))
}

func (s *RestServer) getSimilarItems(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.TopN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	subjectType, subjectId := request.PathParameter("subject-type"), request.PathParameter("subject-id")
	key := cache.Key(subjectType, subjectId)
	var entries []cache.SimilarityEntry
	if item := s.similarCache.Get(key); item != nil && s.Config.Server.CacheTTL > 0 {
		entries = item.Value()
	} else {
		startTime := time.Now()
		if entries, err = s.Worker.SimilarItems(request.Request.Context(), subjectType, subjectId, 0); err != nil {
			Error(response, err)
			return
		}
		LoadSimilarItemsSeconds.Observe(time.Since(startTime).Seconds())
		if s.Config.Server.CacheTTL > 0 {
			s.similarCache.Set(key, entries, ttlcache.DefaultTTL)
		}
	}
	if entries == nil {
		entries = []cache.SimilarityEntry{}
	} else if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	Ok(response, entries)
}

func (s *RestServer) calculateSimilarItems(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.TopN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	var count int
	if err = s.Worker.CalculateSimilarItems(request.Request.Context(), request.PathParameter("subject-type"), n,
		func(_, total int) { count = total }); err != nil {
		Error(response, err)
		return
	}
	s.similarCache.DeleteAll()
	Ok(response, Success{RowAffected: count})
}

func (s *RestServer) getTopMatches(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.TopN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	scores, err := s.Worker.TopMatches(request.Request.Context(),
		request.PathParameter("rater-id"), request.PathParameter("subject-type"), n)
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, scores)
}

func (s *RestServer) getRecommendations(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.TopN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	scores, err := s.Worker.Recommendations(request.Request.Context(),
		request.PathParameter("rater-id"), request.PathParameter("subject-type"), n)
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, scores)
}

func (s *RestServer) getRecommendedItems(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.TopN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	scores, err := s.Worker.RecommendedItems(request.Request.Context(),
		request.PathParameter("rater-id"), request.PathParameter("subject-type"), n)
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, scores)
}

// Error writes the response matching the kind of error.
func Error(response *restful.Response, err error) {
	switch {
	case errors.Is(err, errors.NotFound):
		PageNotFound(response, err)
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.NotSupported):
		BadRequest(response, err)
	default:
		InternalServerError(response, err)
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) auth(request *restful.Request, response *restful.Response) bool {
	if s.Config.Server.APIKey == "" {
		return true
	}
	apikey := request.HeaderParameter("X-API-Key")
	if apikey == s.Config.Server.APIKey {
		return true
	}
	log.ResponseLogger(response).Error("unauthorized", zap.String("X-API-Key", apikey))
	if err := response.WriteError(http.StatusUnauthorized, fmt.Errorf("unauthorized")); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
	return false
}
