// Copyright 2022 gorse Project Authors
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
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/ratings/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

type SQLValue struct {
	Name  string `gorm:"column:name;size:256;primaryKey"`
	Value string `gorm:"column:value;size:256;not null"`
}

type SQLSimilarItem struct {
	SubjectType      string  `gorm:"column:subject_type;size:256;primaryKey"`
	SubjectId        string  `gorm:"column:subject_id;size:256;primaryKey"`
	SimilarSubjectId string  `gorm:"column:similar_subject_id;size:256;primaryKey"`
	Score            float64 `gorm:"column:score;not null"`
	Ordinal          int     `gorm:"column:ordinal;not null"`
}

// SQLDatabase stores meta values and similar items in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

func (db *SQLDatabase) Init() error {
	migrator := db.gormDB
	if db.driver == MySQL {
		migrator = migrator.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	return errors.Trace(migrator.AutoMigrate(&SQLValue{}, &SQLSimilarItem{}))
}

func (db *SQLDatabase) Ping() error {
	return db.client.Ping()
}

func (db *SQLDatabase) Close() error {
	return db.client.Close()
}

func (db *SQLDatabase) Purge() error {
	tx := db.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true})
	if err := tx.Delete(&SQLValue{}).Error; err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(tx.Delete(&SQLSimilarItem{}).Error)
}

func (db *SQLDatabase) Set(ctx context.Context, values ...Value) error {
	if len(values) == 0 {
		return nil
	}
	rows := lo.Map(lo.UniqBy(values, func(v Value) string { return v.name }), func(v Value, _ int) SQLValue {
		return SQLValue{Name: v.name, Value: v.value}
	})
	err := db.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
	return errors.Trace(err)
}

func (db *SQLDatabase) Get(ctx context.Context, name string) *ReturnValue {
	var row SQLValue
	err := db.gormDB.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ReturnValue{err: errors.Annotate(ErrObjectNotExist, name)}
	} else if err != nil {
		return &ReturnValue{err: errors.Trace(err)}
	}
	return &ReturnValue{value: row.Value}
}

func (db *SQLDatabase) Delete(ctx context.Context, name string) error {
	return errors.Trace(db.gormDB.WithContext(ctx).Where("name = ?", name).Delete(&SQLValue{}).Error)
}

func (db *SQLDatabase) SetSimilarItems(ctx context.Context, subjectType, subjectId string, entries []SimilarityEntry) error {
	rows := make([]SQLSimilarItem, len(entries))
	for i, entry := range entries {
		rows[i] = SQLSimilarItem{
			SubjectType:      subjectType,
			SubjectId:        subjectId,
			SimilarSubjectId: entry.SimilarSubjectId,
			Score:            entry.Score,
			Ordinal:          entry.Rank,
		}
	}
	err := db.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subject_type = ? AND subject_id = ?", subjectType, subjectId).
			Delete(&SQLSimilarItem{}).Error; err != nil {
			return errors.Trace(err)
		}
		if len(rows) == 0 {
			return nil
		}
		return errors.Trace(tx.Create(&rows).Error)
	})
	return errors.Trace(err)
}

func (db *SQLDatabase) GetSimilarItems(ctx context.Context, subjectType, subjectId string, n int) ([]SimilarityEntry, error) {
	tx := db.gormDB.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectId).
		Order("ordinal")
	if n > 0 {
		tx = tx.Limit(n)
	}
	var rows []SQLSimilarItem
	if err := tx.Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	entries := make([]SimilarityEntry, len(rows))
	for i, row := range rows {
		entries[i] = SimilarityEntry{
			SubjectType:      row.SubjectType,
			SubjectId:        row.SubjectId,
			SimilarSubjectId: row.SimilarSubjectId,
			Score:            row.Score,
			Rank:             row.Ordinal,
		}
	}
	return entries, nil
}

func (db *SQLDatabase) ScanSimilarOwners(ctx context.Context, subjectType string) ([]string, error) {
	var owners []string
	err := db.gormDB.WithContext(ctx).Model(&SQLSimilarItem{}).
		Distinct("subject_id").
		Where("subject_type = ?", subjectType).
		Order("subject_id").
		Pluck("subject_id", &owners).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return owners, nil
}
