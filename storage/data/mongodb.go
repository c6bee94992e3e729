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

	"github.com/gorse-io/ratings/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB stores ratings in a collection with a unique index on rater and subject.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

func (db *MongoDB) ratings() *mongo.Collection {
	return db.client.Database(db.dbName).Collection(db.RatingsTable())
}

func (db *MongoDB) Init() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	// list collections
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	// create collections
	if !lo.Contains(collections, db.RatingsTable()) {
		if err = d.CreateCollection(ctx, db.RatingsTable()); err != nil {
			return errors.Trace(err)
		}
	}
	// create index
	_, err = db.ratings().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "rater_id", Value: 1}, {Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}},
		},
	})
	return errors.Trace(err)
}

func (db *MongoDB) Ping() error {
	return db.client.Ping(context.Background(), nil)
}

func (db *MongoDB) Close() error {
	return db.client.Disconnect(context.Background())
}

func (db *MongoDB) Purge() error {
	_, err := db.ratings().DeleteMany(context.Background(), bson.M{})
	return errors.Trace(err)
}

func (db *MongoDB) UpsertRating(ctx context.Context, rating Rating) (Rating, error) {
	filter := bson.M{
		"rater_id":     rating.RaterId,
		"subject_type": rating.SubjectType,
		"subject_id":   rating.SubjectId,
	}
	update := bson.M{
		"$set": bson.M{"score": rating.Score},
		"$setOnInsert": bson.M{
			"_id":        rating.RatingId,
			"created_at": rating.CreatedAt,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored Rating
	err := db.ratings().FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent upsert inserted the rating first
		err = db.ratings().FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	}
	if err != nil {
		return Rating{}, errors.Trace(err)
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	return stored, nil
}

func (db *MongoDB) findOne(ctx context.Context, filter bson.M, id string) (Rating, error) {
	var rating Rating
	err := db.ratings().FindOne(ctx, filter).Decode(&rating)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Rating{}, errors.Annotate(ErrRatingNotExist, id)
	} else if err != nil {
		return Rating{}, errors.Trace(err)
	}
	rating.CreatedAt = rating.CreatedAt.UTC()
	return rating, nil
}

func (db *MongoDB) find(ctx context.Context, filter bson.M, sort bson.D) ([]Rating, error) {
	cursor, err := db.ratings().Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer cursor.Close(ctx)
	ratings := make([]Rating, 0)
	for cursor.Next(ctx) {
		var rating Rating
		if err = cursor.Decode(&rating); err != nil {
			return nil, errors.Trace(err)
		}
		rating.CreatedAt = rating.CreatedAt.UTC()
		ratings = append(ratings, rating)
	}
	return ratings, errors.Trace(cursor.Err())
}

func (db *MongoDB) GetRating(ctx context.Context, ratingId string) (Rating, error) {
	return db.findOne(ctx, bson.M{"_id": ratingId}, ratingId)
}

func (db *MongoDB) GetRaterRating(ctx context.Context, raterId string, subject SubjectKey) (Rating, error) {
	return db.findOne(ctx, bson.M{
		"rater_id":     raterId,
		"subject_type": subject.SubjectType,
		"subject_id":   subject.SubjectId,
	}, raterId)
}

func (db *MongoDB) DeleteRating(ctx context.Context, subject SubjectKey, ratingId string) error {
	result, err := db.ratings().DeleteOne(ctx, bson.M{
		"_id":          ratingId,
		"subject_type": subject.SubjectType,
		"subject_id":   subject.SubjectId,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if result.DeletedCount == 0 {
		return errors.Annotate(ErrRatingNotExist, ratingId)
	}
	return nil
}

func (db *MongoDB) DeleteSubjectRatings(ctx context.Context, subject SubjectKey) (int, error) {
	result, err := db.ratings().DeleteMany(ctx, bson.M{
		"subject_type": subject.SubjectType,
		"subject_id":   subject.SubjectId,
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int(result.DeletedCount), nil
}

func (db *MongoDB) GetSubjectRatings(ctx context.Context, subject SubjectKey) ([]Rating, error) {
	return db.find(ctx, bson.M{
		"subject_type": subject.SubjectType,
		"subject_id":   subject.SubjectId,
	}, bson.D{{Key: "rater_id", Value: 1}})
}

func (db *MongoDB) GetRaterRatings(ctx context.Context, raterId, subjectType string) ([]Rating, error) {
	filter := bson.M{"rater_id": raterId}
	if subjectType != "" {
		filter["subject_type"] = subjectType
	}
	return db.find(ctx, filter, bson.D{{Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}})
}

func (db *MongoDB) GetSubjectScore(ctx context.Context, subject SubjectKey) (float64, int, error) {
	cursor, err := db.ratings().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"subject_type": subject.SubjectType, "subject_id": subject.SubjectId}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$score"}, "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	defer cursor.Close(ctx)
	var result struct {
		Total float64 `bson:"total"`
		Count int     `bson:"count"`
	}
	if cursor.Next(ctx) {
		if err = cursor.Decode(&result); err != nil {
			return 0, 0, errors.Trace(err)
		}
	}
	return result.Total, result.Count, errors.Trace(cursor.Err())
}

func (db *MongoDB) GetRatingStream(ctx context.Context, batchSize int, subjectType string) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		filter := bson.M{}
		if subjectType != "" {
			filter["subject_type"] = subjectType
		}
		opts := options.Find().SetSort(bson.D{{Key: "subject_id", Value: 1}, {Key: "rater_id", Value: 1}}).SetBatchSize(int32(batchSize))
		cursor, err := db.ratings().Find(ctx, filter, opts)
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		defer cursor.Close(ctx)
		ratings := make([]Rating, 0, batchSize)
		for cursor.Next(ctx) {
			var rating Rating
			if err = cursor.Decode(&rating); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			rating.CreatedAt = rating.CreatedAt.UTC()
			ratings = append(ratings, rating)
			if len(ratings) == batchSize {
				ratingChan <- ratings
				ratings = make([]Rating, 0, batchSize)
			}
		}
		if err = cursor.Err(); err != nil {
			errChan <- errors.Trace(err)
			return
		}
		if len(ratings) > 0 {
			ratingChan <- ratings
		}
		errChan <- nil
	}()
	return ratingChan, errChan
}
