package logger

import (
	"fmt"
	"os"

	"coursehub_backend/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 在 InitLogger 之前为 nop，测试中无需初始化
var Log = zap.NewNop()

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "time",
	LevelKey:       "level",
	NameKey:        "logger",
	CallerKey:      "caller",
	MessageKey:     "msg",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.ISO8601TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// level 未配置 log.level 时 debug 模式输出 debug 日志，其余为 info
func level(cfg *config.Config) (zapcore.Level, error) {
	if cfg.Log.Level == "" {
		if cfg.Server.Mode == "debug" {
			return zap.DebugLevel, nil
		}
		return zap.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return lvl, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// New 控制台输出 console 格式，配置了 log.file 时另写一份 JSON 到滚动文件
func New(cfg *config.Config, console zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := level(cfg)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), console, lvl),
	}
	if cfg.Log.File != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, lvl))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).
		With(zap.String("service", "coursehub"), zap.String("mode", cfg.Server.Mode)), nil
}

func InitLogger(cfg *config.Config) {
	l, err := New(cfg, zapcore.AddSync(os.Stdout))
	if err != nil {
		// 配置错误时退回 info 级别，避免服务无日志启动
		fallback := *cfg
		fallback.Log.Level = "info"
		l, _ = New(&fallback, zapcore.AddSync(os.Stdout))
		l.Warn("Invalid log level, falling back to info", zap.String("level", cfg.Log.Level))
	}
	Log = l
}
