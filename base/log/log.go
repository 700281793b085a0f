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
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFileName is the log file created when --log-path names a directory.
const DefaultFileName = "rectool.log"

const timeLayout = "2006-01-02 15:04:05.999999"

var logger = zap.Must(zap.NewDevelopment())

// Logger get current logger
func Logger() *zap.Logger {
	return logger
}

// RunLogger returns a logger tagged with an experiment run.
func RunLogger(runId string) *zap.Logger {
	return logger.With(zap.String("run_id", runId))
}

// AddFlags registers the logging flags shared by rectool commands.
func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String("log-path", "", "log file, or a directory to create "+DefaultFileName+" in")
	flagSet.String("log-format", "", "log encoding: json or console (console with --debug, json otherwise)")
	flagSet.Int("log-max-size", 100, "megabytes written to the log file before it is rotated")
	flagSet.Int("log-max-age", 0, "days to keep rotated log files (0 keeps them all)")
	flagSet.Int("log-max-backups", 0, "number of rotated log files to keep (0 keeps them all)")
}

// SetLogger replaces the logger according to the logging flags. Records go to stdout and, if --log-path is
// set, to a rotated file.
func SetLogger(flagSet *pflag.FlagSet, debug bool) {
	format, _ := flagSet.GetString("log-format")
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if flagSet.Changed("log-path") {
		path, _ := flagSet.GetString("log-path")
		maxSize, _ := flagSet.GetInt("log-max-size")
		maxAge, _ := flagSet.GetInt("log-max-age")
		maxBackups, _ := flagSet.GetInt("log-max-backups")
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFilePath(path),
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
		}))
	}
	core := zapcore.NewCore(newEncoder(format, debug), zap.CombineWriteSyncers(writers...), level)
	logger = zap.New(core)
}

func newEncoder(format string, debug bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	if debug {
		cfg = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	switch {
	case format == "console", format == "" && debug:
		return zapcore.NewConsoleEncoder(cfg)
	default:
		return zapcore.NewJSONEncoder(cfg)
	}
}

// logFilePath resolves a directory to DefaultFileName inside it.
func logFilePath(path string) string {
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		return filepath.Join(path, DefaultFileName)
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, DefaultFileName)
	}
	return path
}

const mysqlPrefix = "mysql://"

// RedactDBURL masks credentials of a tracking database URL before it is logged.
func RedactDBURL(rawURL string) string {
	if strings.HasPrefix(rawURL, mysqlPrefix) {
		return redactMySQL(rawURL)
	}
	return redactURL(rawURL)
}

func mask(s string) string {
	return strings.Repeat("x", len(s))
}

func redactMySQL(rawURL string) string {
	cfg, err := mysql.ParseDSN(strings.TrimPrefix(rawURL, mysqlPrefix))
	if err != nil {
		return rawURL
	}
	cfg.User, cfg.Passwd = mask(cfg.User), mask(cfg.Passwd)
	return mysqlPrefix + cfg.FormatDSN()
}

func redactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.User == nil {
		return rawURL
	}
	password, _ := parsed.User.Password()
	parsed.User = url.UserPassword(mask(parsed.User.Username()), mask(password))
	return parsed.String()
}

// GetErrorHandler reports OpenTelemetry failures of the tracking database through the logger.
func GetErrorHandler() otel.ErrorHandler {
	return otel.ErrorHandlerFunc(func(err error) {
		Logger().Error("opentelemetry failure", zap.Error(err))
	})
}
