package rewards

import (
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Логгер сервиса: development в консоль, JSON в файл с ротацией если задан REWARDS_LOG_FILE
func New(service string) (*zap.Logger, error) {
	file := os.Getenv("REWARDS_LOG_FILE")
	if file == "" {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return logger.With(zap.String("app", service)), nil
	}

	maxSize := 100
	if v := os.Getenv("REWARDS_LOG_MAX_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxSize = n
		}
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, writer, zap.InfoLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.Lock(os.Stderr), zap.WarnLevel),
	)
	return zap.New(core, zap.AddCaller()).With(zap.String("app", service)), nil
}
