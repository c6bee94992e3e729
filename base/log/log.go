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

package log

import (
	"net/url"
	"os"
	"strings"

	"github.com/emicklei/go-restful/v3"
	"github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = zap.Must(zap.NewDevelopment())

// Logger get current logger
func Logger() *zap.Logger {
	return logger
}

// ResponseLogger returns a logger tagged with the request id of a response.
func ResponseLogger(resp *restful.Response) *zap.Logger {
	return logger.With(zap.String("request_id", resp.Header().Get("X-Request-ID")))
}

// SubjectType tags a log entry with a subject type.
func SubjectType(subjectType string) zap.Field {
	return zap.String("subject_type", subjectType)
}

// Subject tags a log entry with a subject as type/id.
func Subject(subjectType, subjectId string) zap.Field {
	return zap.String("subject", subjectType+"/"+subjectId)
}

func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String("log-level", "info", "minimal level of logs (debug, info, warn, error)")
	flagSet.String("log-path", "", "path of log file")
	flagSet.Int("log-max-size", 100, "maximum size in megabytes of the log file")
	flagSet.Int("log-max-age", 0, "maximum number of days to retain old log files")
	flagSet.Int("log-max-backups", 0, "maximum number of old log files to retain")
}

// SetLogger replaces the logger by flags. Debug mode logs every level to the
// console, otherwise JSON logs are written from --log-level up.
func SetLogger(flagSet *pflag.FlagSet, debug bool) {
	var (
		encoder zapcore.Encoder
		level   = zap.NewAtomicLevelAt(zap.InfoLevel)
	)
	timeEncoder := zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999999")
	if debug {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = timeEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		level.SetLevel(zap.DebugLevel)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = timeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
		if name, err := flagSet.GetString("log-level"); err == nil {
			if parsed, err := zapcore.ParseLevel(name); err == nil {
				level.SetLevel(parsed)
			}
		}
	}
	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if flagSet.Changed("log-path") {
		path, _ := flagSet.GetString("log-path")
		maxSize, _ := flagSet.GetInt("log-max-size")
		maxAge, _ := flagSet.GetInt("log-max-age")
		maxBackups, _ := flagSet.GetInt("log-max-backups")
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
		}))
	}
	logger = zap.New(zapcore.NewCore(encoder, zap.CombineWriteSyncers(writers...), level)).
		With(zap.String("service", "ratings"))
}

const mysqlPrefix = "mysql://"

func mask(s string) string {
	return strings.Repeat("x", len(s))
}

// RedactDBURL masks credentials of a store URL before it is logged.
func RedactDBURL(rawURL string) string {
	if dsn, ok := strings.CutPrefix(rawURL, mysqlPrefix); ok {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return rawURL
		}
		parsed.User, parsed.Passwd = mask(parsed.User), mask(parsed.Passwd)
		return mysqlPrefix + parsed.FormatDSN()
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		parsed.User = url.UserPassword(mask(parsed.User.Username()), mask(password))
	}
	return parsed.String()
}

// GetErrorHandler logs errors raised inside OpenTelemetry instrumentation.
func GetErrorHandler() otel.ErrorHandler {
	return otel.ErrorHandlerFunc(func(err error) {
		Logger().Warn("opentelemetry failure", zap.Error(err))
	})
}
