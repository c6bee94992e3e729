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
	"fmt"
	"net/http"
	"time"

	"github.com/gorse-io/ratings/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Serve starts the REST-ful API server and stops it once the context is canceled.
func (s *RestServer) Serve(ctx context.Context) error {
	go s.similarCache.Start()
	defer s.similarCache.Stop()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port),
		Handler: s.Handler(),
	}
	errChan := make(chan error, 1)
	go func() {
		log.Logger().Info("start http server",
			zap.String("url", fmt.Sprintf("http://%s:%d", s.Config.Server.Host, s.Config.Server.Port)))
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Logger().Info("stop http server")
		return errors.Trace(server.Shutdown(shutdownCtx))
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Trace(err)
	}
}
