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
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/ratings/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

const bufSize = 1

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// SQLRating is the row of the ratings table.
type SQLRating struct {
	RatingId    string    `gorm:"column:rating_id;size:36;primaryKey"`
	RaterId     string    `gorm:"column:rater_id;size:256;not null;uniqueIndex:rater_subject,priority:1"`
	SubjectType string    `gorm:"column:subject_type;size:256;not null;uniqueIndex:rater_subject,priority:2;index:subject,priority:1"`
	SubjectId   string    `gorm:"column:subject_id;size:256;not null;uniqueIndex:rater_subject,priority:3;index:subject,priority:2"`
	Score       float64   `gorm:"column:score;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func newSQLRating(rating Rating) SQLRating {
	return SQLRating{
		RatingId:    rating.RatingId,
		RaterId:     rating.RaterId,
		SubjectType: rating.SubjectType,
		SubjectId:   rating.SubjectId,
		Score:       rating.Score,
		CreatedAt:   rating.CreatedAt,
	}
}

func (r SQLRating) toRating() Rating {
	return Rating{
		RatingId:    r.RatingId,
		RaterId:     r.RaterId,
		SubjectType: r.SubjectType,
		SubjectId:   r.SubjectId,
		Score:       r.Score,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

// SQLDatabase stores ratings in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

func (d *SQLDatabase) Init() error {
	migrator := d.gormDB
	if d.driver == MySQL {
		migrator = migrator.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	if err := migrator.AutoMigrate(&SQLRating{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

func (d *SQLDatabase) Purge() error {
	tx := d.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&SQLRating{})
	return errors.Trace(tx.Error)
}

func (d *SQLDatabase) UpsertRating(ctx context.Context, rating Rating) (Rating, error) {
	row := newSQLRating(rating)
	var stored SQLRating
	err := d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rater_id"}, {Name: "subject_type"}, {Name: "subject_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score"}),
		}).Create(&row).Error; err != nil {
			return errors.Trace(err)
		}
		return tx.Where("rater_id = ? AND subject_type = ? AND subject_id = ?",
			rating.RaterId, rating.SubjectType, rating.SubjectId).Take(&stored).Error
	})
	if err != nil {
		return Rating{}, errors.Trace(err)
	}
	return stored.toRating(), nil
}

func (d *SQLDatabase) GetRating(ctx context.Context, ratingId string) (Rating, error) {
	var row SQLRating
	err := d.gormDB.WithContext(ctx).Where("rating_id = ?", ratingId).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Rating{}, errors.Annotate(ErrRatingNotExist, ratingId)
	} else if err != nil {
		return Rating{}, errors.Trace(err)
	}
	return row.toRating(), nil
}

func (d *SQLDatabase) GetRaterRating(ctx context.Context, raterId string, subject SubjectKey) (Rating, error) {
	var row SQLRating
	err := d.gormDB.WithContext(ctx).
		Where("rater_id = ? AND subject_type = ? AND subject_id = ?", raterId, subject.SubjectType, subject.SubjectId).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Rating{}, errors.Annotate(ErrRatingNotExist, raterId)
	} else if err != nil {
		return Rating{}, errors.Trace(err)
	}
	return row.toRating(), nil
}

func (d *SQLDatabase) DeleteRating(ctx context.Context, subject SubjectKey, ratingId string) error {
	tx := d.gormDB.WithContext(ctx).
		Where("rating_id = ? AND subject_type = ? AND subject_id = ?", ratingId, subject.SubjectType, subject.SubjectId).
		Delete(&SQLRating{})
	if tx.Error != nil {
		return errors.Trace(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return errors.Annotate(ErrRatingNotExist, ratingId)
	}
	return nil
}

func (d *SQLDatabase) DeleteSubjectRatings(ctx context.Context, subject SubjectKey) (int, error) {
	tx := d.gormDB.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject.SubjectType, subject.SubjectId).
		Delete(&SQLRating{})
	if tx.Error != nil {
		return 0, errors.Trace(tx.Error)
	}
	return int(tx.RowsAffected), nil
}

func (d *SQLDatabase) GetSubjectRatings(ctx context.Context, subject SubjectKey) ([]Rating, error) {
	var rows []SQLRating
	if err := d.gormDB.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject.SubjectType, subject.SubjectId).
		Order("rater_id").
		Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	ratings := make([]Rating, len(rows))
	for i, row := range rows {
		ratings[i] = row.toRating()
	}
	return ratings, nil
}

func (d *SQLDatabase) GetRaterRatings(ctx context.Context, raterId, subjectType string) ([]Rating, error) {
	tx := d.gormDB.WithContext(ctx).Where("rater_id = ?", raterId)
	if subjectType != "" {
		tx = tx.Where("subject_type = ?", subjectType)
	}
	var rows []SQLRating
	if err := tx.Order("subject_type").Order("subject_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	ratings := make([]Rating, len(rows))
	for i, row := range rows {
		ratings[i] = row.toRating()
	}
	return ratings, nil
}

func (d *SQLDatabase) GetSubjectScore(ctx context.Context, subject SubjectKey) (float64, int, error) {
	var result struct {
		Total float64
		Count int
	}
	if err := d.gormDB.WithContext(ctx).Model(&SQLRating{}).
		Select("COALESCE(SUM(score), 0) AS total, COUNT(*) AS count").
		Where("subject_type = ? AND subject_id = ?", subject.SubjectType, subject.SubjectId).
		Scan(&result).Error; err != nil {
		return 0, 0, errors.Trace(err)
	}
	return result.Total, result.Count, nil
}

// GetRatingStream reads ratings of a subject type in batches. All subject types
// are read if subjectType is empty.
func (d *SQLDatabase) GetRatingStream(ctx context.Context, batchSize int, subjectType string) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		// send query
		tx := d.gormDB.WithContext(ctx).Model(&SQLRating{}).
			Select("rating_id, rater_id, subject_type, subject_id, score, created_at")
		if subjectType != "" {
			tx = tx.Where("subject_type = ?", subjectType)
		}
		result, err := tx.Order("subject_id").Order("rater_id").Rows()
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		// fetch result
		ratings := make([]Rating, 0, batchSize)
		defer result.Close()
		for result.Next() {
			var row SQLRating
			if err = result.Scan(&row.RatingId, &row.RaterId, &row.SubjectType, &row.SubjectId, &row.Score, &row.CreatedAt); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			ratings = append(ratings, row.toRating())
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
		if err = result.Err(); err != nil {
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
