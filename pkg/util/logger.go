// Copyright 2024-2025 lanedb
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

package util

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	glogger     *zap.Logger
	gloggerOnce sync.Once
)

func logger() *zap.Logger {
	gloggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		var err error
		glogger, err = cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			glogger = zap.NewNop()
		}
	})
	return glogger
}

// SetLogger replaces the package logger. Tests use it to silence output.
func SetLogger(l *zap.Logger) {
	gloggerOnce.Do(func() {})
	glogger = l
}

func Debug(msg string, fields ...zap.Field) {
	logger().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	logger().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	logger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger().Error(msg, fields...)
}
