// Package logger はアプリケーション共通のzapロガーを作成する
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New は本番用のJSONロガーを作成する
func New() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.LevelKey = "level"

	return config.Build()
}

// NewDevelopment はコンソール向けのデバッグロガーを作成する
func NewDevelopment() (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return config.Build()
}

// Build はデバッグ指定に応じてロガーを選ぶ
func Build(debug bool) (*zap.Logger, error) {
	if debug {
		return NewDevelopment()
	}
	return New()
}
