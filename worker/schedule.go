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

package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/ratings/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Refresh recalculates similar items of every configured subject type. Failed
// calculations are retried with exponential backoff.
func (w *Worker) Refresh(ctx context.Context) error {
	for _, subjectType := range w.Config.Worker.RefreshTypes {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := w.CalculateSimilarItems(ctx, subjectType, w.Config.Recommend.TopN, nil)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.NotValid) {
				return struct{}{}, backoff.Permanent(err)
			}
			if err != nil {
				log.Logger().Warn("retry calculating similar items",
					log.SubjectType(subjectType), zap.Error(err))
			}
			return struct{}{}, err
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(w.Config.Worker.MaxRetries+1),
		)
		if err != nil {
			return errors.Annotatef(err, "refresh %s", subjectType)
		}
	}
	return nil
}

// Schedule refreshes similar items periodically until the context is canceled. It
// returns immediately if the refresh period is zero.
func (w *Worker) Schedule(ctx context.Context) error {
	if w.Config.Worker.RefreshPeriod <= 0 || len(w.Config.Worker.RefreshTypes) == 0 {
		return nil
	}
	log.Logger().Info("start refreshing similar items",
		zap.Duration("refresh_period", w.Config.Worker.RefreshPeriod),
		zap.Strings("refresh_types", w.Config.Worker.RefreshTypes))
	ticker := time.NewTicker(w.Config.Worker.RefreshPeriod)
	defer ticker.Stop()
	for {
		if err := w.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Logger().Error("failed to refresh similar items", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
