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

package cache

import (
	"context"

	"github.com/gorse-io/ratings/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoSimilar struct {
	SimilarSubjectId string  `bson:"id"`
	Score            float64 `bson:"score"`
}

// mongoSimilarItems keeps all similar items of a subject in one document so that
// replacement is atomic.
type mongoSimilarItems struct {
	Key         string         `bson:"_id"`
	SubjectType string         `bson:"subject_type"`
	SubjectId   string         `bson:"subject_id"`
	Similar     []mongoSimilar `bson:"similar"`
}

type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

func (m MongoDB) values() *mongo.Collection {
	return m.client.Database(m.dbName).Collection(m.ValuesTable())
}

func (m MongoDB) similarItems() *mongo.Collection {
	return m.client.Database(m.dbName).Collection(m.SimilarItemsTable())
}

func (m MongoDB) Init() error {
	ctx := context.Background()
	d := m.client.Database(m.dbName)
	// list collections
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	// create collections
	for _, name := range []string{m.ValuesTable(), m.SimilarItemsTable()} {
		if !lo.Contains(collections, name) {
			if err = d.CreateCollection(ctx, name); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// create index
	_, err = m.similarItems().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}},
	})
	return errors.Trace(err)
}

func (m MongoDB) Ping() error {
	return m.client.Ping(context.Background(), nil)
}

func (m MongoDB) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m MongoDB) Purge() error {
	ctx := context.Background()
	if _, err := m.values().DeleteMany(ctx, bson.M{}); err != nil {
		return errors.Trace(err)
	}
	_, err := m.similarItems().DeleteMany(ctx, bson.M{})
	return errors.Trace(err)
}

func (m MongoDB) Set(ctx context.Context, values ...Value) error {
	if len(values) == 0 {
		return nil
	}
	var models []mongo.WriteModel
	for _, value := range values {
		models = append(models, mongo.NewUpdateOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"_id": bson.M{"$eq": value.name}}).
			SetUpdate(bson.M{"$set": bson.M{"_id": value.name, "value": value.value}}))
	}
	_, err := m.values().BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (m MongoDB) Get(ctx context.Context, name string) *ReturnValue {
	r := m.values().FindOne(ctx, bson.M{"_id": bson.M{"$eq": name}})
	if errors.Is(r.Err(), mongo.ErrNoDocuments) {
		return &ReturnValue{err: errors.Annotate(ErrObjectNotExist, name)}
	} else if r.Err() != nil {
		return &ReturnValue{err: errors.Trace(r.Err())}
	}
	raw, err := r.Raw()
	if err != nil {
		return &ReturnValue{err: errors.Trace(err)}
	}
	return &ReturnValue{value: raw.Lookup("value").StringValue()}
}

func (m MongoDB) Delete(ctx context.Context, name string) error {
	_, err := m.values().DeleteOne(ctx, bson.M{"_id": bson.M{"$eq": name}})
	return errors.Trace(err)
}

func (m MongoDB) SetSimilarItems(ctx context.Context, subjectType, subjectId string, entries []SimilarityEntry) error {
	key := Key(subjectType, subjectId)
	if len(entries) == 0 {
		_, err := m.similarItems().DeleteOne(ctx, bson.M{"_id": key})
		return errors.Trace(err)
	}
	doc := mongoSimilarItems{
		Key:         key,
		SubjectType: subjectType,
		SubjectId:   subjectId,
		Similar: lo.Map(entries, func(entry SimilarityEntry, _ int) mongoSimilar {
			return mongoSimilar{SimilarSubjectId: entry.SimilarSubjectId, Score: entry.Score}
		}),
	}
	_, err := m.similarItems().ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return errors.Trace(err)
}

func (m MongoDB) GetSimilarItems(ctx context.Context, subjectType, subjectId string, n int) ([]SimilarityEntry, error) {
	var doc mongoSimilarItems
	err := m.similarItems().FindOne(ctx, bson.M{"_id": Key(subjectType, subjectId)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []SimilarityEntry{}, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	entries := lo.Map(doc.Similar, func(similar mongoSimilar, i int) SimilarityEntry {
		return SimilarityEntry{
			SubjectType:      subjectType,
			SubjectId:        subjectId,
			SimilarSubjectId: similar.SimilarSubjectId,
			Score:            similar.Score,
			Rank:             i,
		}
	})
	return truncateEntries(entries, n), nil
}

func (m MongoDB) ScanSimilarOwners(ctx context.Context, subjectType string) ([]string, error) {
	cursor, err := m.similarItems().Find(ctx, bson.M{"subject_type": subjectType},
		options.Find().SetSort(bson.D{{Key: "subject_id", Value: 1}}).SetProjection(bson.M{"subject_id": 1}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer cursor.Close(ctx)
	var owners []string
	for cursor.Next(ctx) {
		var doc mongoSimilarItems
		if err = cursor.Decode(&doc); err != nil {
			return nil, errors.Trace(err)
		}
		owners = append(owners, doc.SubjectId)
	}
	return owners, errors.Trace(cursor.Err())
}
