// Package logx builds the process logger.
package logx

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

// New returns a console logger for APP_ENV=dev and a JSON production logger
// otherwise.
func New(env, service string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("service", service)), nil
}

// OrNop lets components accept a nil logger.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Rejection logs a failed operation: domain rejections at Info, anything
// else at Error.
func Rejection(l *zap.Logger, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("kind", domain.Kind(err)), zap.Error(err))
	if domain.IsDomain(err) {
		l.Info(msg, fields...)
		return
	}
	l.Error(msg, fields...)
}
