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
	"sort"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/ratings/base/log"
	"github.com/gorse-io/ratings/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var ErrRatingNotExist = errors.NotFoundf("rating")

// SubjectKey identifies a rated subject by its type and id.
type SubjectKey struct {
	SubjectType string
	SubjectId   string
}

func (k SubjectKey) String() string {
	return k.SubjectType + "/" + k.SubjectId
}

// Rating is the score given by a rater to a subject. There is at most one rating
// per rater and subject.
type Rating struct {
	RatingId    string    `gorm:"column:rating_id;primaryKey" bson:"_id" json:"RatingId"`
	RaterId     string    `gorm:"column:rater_id" bson:"rater_id" json:"RaterId"`
	SubjectType string    `gorm:"column:subject_type" bson:"subject_type" json:"SubjectType"`
	SubjectId   string    `gorm:"column:subject_id" bson:"subject_id" json:"SubjectId"`
	Score       float64   `gorm:"column:score" bson:"score" json:"Score"`
	CreatedAt   time.Time `gorm:"column:created_at" bson:"created_at" json:"CreatedAt"`
}

func (r Rating) Subject() SubjectKey {
	return SubjectKey{SubjectType: r.SubjectType, SubjectId: r.SubjectId}
}

// SortRatings sorts ratings by subject type, subject id and rater id.
func SortRatings(ratings []Rating) {
	sort.Slice(ratings, func(i, j int) bool {
		if ratings[i].SubjectType != ratings[j].SubjectType {
			return ratings[i].SubjectType < ratings[j].SubjectType
		}
		if ratings[i].SubjectId != ratings[j].SubjectId {
			return ratings[i].SubjectId < ratings[j].SubjectId
		}
		return ratings[i].RaterId < ratings[j].RaterId
	})
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	// UpsertRating inserts a rating or overwrites the score of the existing rating
	// of the same rater and subject. The stored rating is returned.
	UpsertRating(ctx context.Context, rating Rating) (Rating, error)
	GetRating(ctx context.Context, ratingId string) (Rating, error)
	GetRaterRating(ctx context.Context, raterId string, subject SubjectKey) (Rating, error)
	// DeleteRating deletes a rating only if it belongs to the subject.
	DeleteRating(ctx context.Context, subject SubjectKey, ratingId string) error
	DeleteSubjectRatings(ctx context.Context, subject SubjectKey) (int, error)
	GetSubjectRatings(ctx context.Context, subject SubjectKey) ([]Rating, error)
	GetRaterRatings(ctx context.Context, raterId, subjectType string) ([]Rating, error)
	// GetSubjectScore returns the sum and the number of scores of a subject.
	GetSubjectScore(ctx context.Context, subject SubjectKey) (float64, int, error)
	GetRatingStream(ctx context.Context, batchSize int, subjectType string) (chan []Rating, chan error)
}

// Open opens a database by the prefix of its path.
func Open(path, tablePrefix string, opts ...storage.Option) (Database, error) {
	var err error
	option := storage.NewOptions(opts...)
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		// probe isolation variable name
		isolationVarName, err := storage.ProbeMySQLIsolationVariableName(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		// append parameters
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":       "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			isolationVarName: "'" + option.IsolationLevel + "'",
			"parseTime":      "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(semconv.DBSystemMySQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		storage.ApplySQLPool(database.client, option)
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		storage.ApplySQLPool(database.client, option)
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		// connect to database
		database := new(MongoDB)
		opts := options.Client()
		opts.Monitor = otelmongo.NewMonitor()
		opts.ApplyURI(path)
		if database.client, err = mongo.Connect(context.Background(), opts); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		if cs, err := connstring.ParseAndValidate(path); err != nil {
			return nil, errors.Trace(err)
		} else {
			database.dbName = cs.Database
			database.TablePrefix = storage.TablePrefix(tablePrefix)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		// append parameters
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite", name,
			otelsql.WithAttributes(semconv.DBSystemSqlite),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		// sqlite allows a single writer
		database.client.SetMaxOpenConns(1)
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := new(Redis)
		database.client = redis.NewClient(opt)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if err = redisotel.InstrumentTracing(database.client, redisotel.WithAttributes(semconv.DBSystemRedis)); err != nil {
			log.Logger().Error("failed to add tracing for redis", zap.Error(err))
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", path)
}
