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

package cache

import (
	"context"
	"sort"

	"github.com/gorse-io/ratings/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

const similarOwners = "similar_owners"

// Redis cache storage. Similar items of a subject are kept in a sorted set.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

func (r *Redis) similarKey(subjectType, subjectId string) string {
	return r.Key(Key(SimilarItems, subjectType, subjectId))
}

func (r *Redis) ownersKey(subjectType string) string {
	return r.Key(Key(similarOwners, subjectType))
}

// Init nothing.
func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

// Close redis connection.
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

func (r *Redis) Set(ctx context.Context, values ...Value) error {
	p := r.client.Pipeline()
	for _, v := range values {
		p.Set(ctx, r.Key(v.name), v.value, 0)
	}
	_, err := p.Exec(ctx)
	return errors.Trace(err)
}

// Get returns a value from Redis.
func (r *Redis) Get(ctx context.Context, key string) *ReturnValue {
	val, err := r.client.Get(ctx, r.Key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &ReturnValue{err: errors.Annotate(ErrObjectNotExist, key)}
		}
		return &ReturnValue{err: errors.Trace(err)}
	}
	return &ReturnValue{value: val}
}

// Delete object from Redis.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return errors.Trace(r.client.Del(ctx, r.Key(key)).Err())
}

func (r *Redis) SetSimilarItems(ctx context.Context, subjectType, subjectId string, entries []SimilarityEntry) error {
	members := make([]redis.Z, len(entries))
	for i, entry := range entries {
		members[i] = redis.Z{Score: entry.Score, Member: entry.SimilarSubjectId}
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := r.similarKey(subjectType, subjectId)
		pipe.Del(ctx, key)
		if len(members) == 0 {
			pipe.SRem(ctx, r.ownersKey(subjectType), subjectId)
			return nil
		}
		pipe.ZAdd(ctx, key, members...)
		pipe.SAdd(ctx, r.ownersKey(subjectType), subjectId)
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) GetSimilarItems(ctx context.Context, subjectType, subjectId string, n int) ([]SimilarityEntry, error) {
	members, err := r.client.ZRevRangeWithScores(ctx, r.similarKey(subjectType, subjectId), 0, -1).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	entries := make([]SimilarityEntry, len(members))
	for i, member := range members {
		entries[i] = SimilarityEntry{
			SubjectType:      subjectType,
			SubjectId:        subjectId,
			SimilarSubjectId: member.Member.(string),
			Score:            member.Score,
		}
	}
	// redis orders equal scores by member descending
	SortEntries(entries)
	return truncateEntries(entries, n), nil
}

func (r *Redis) ScanSimilarOwners(ctx context.Context, subjectType string) ([]string, error) {
	owners, err := r.client.SMembers(ctx, r.ownersKey(subjectType)).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(owners)
	return owners, nil
}
