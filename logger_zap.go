package auth

import (
	"go.uber.org/zap"
)

// ZapLogger adapts a zap sugared logger to Logger and LoggerProvider.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var (
	_ Logger         = (*ZapLogger)(nil)
	_ LoggerProvider = (*ZapLogger)(nil)
)

// NewZapLogger builds a JSON production logger, or a console logger when
// development is true.
func NewZapLogger(development bool, level string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: l.Sugar()}, nil
}

// WrapZap adapts an existing zap logger.
func WrapZap(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }
func (z *ZapLogger) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

// GetLogger returns a child logger named after a component.
func (z *ZapLogger) GetLogger(name string) Logger {
	return &ZapLogger{sugar: z.sugar.Named(name)}
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
