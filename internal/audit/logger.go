package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Recorder is the append-only audit collaborator the pipeline writes to.
type Recorder interface {
	Record(ctx context.Context, event Event)
	Sync() error
	Close() error
}

// Config controls the file-backed audit log.
type Config struct {
	// Path is the audit log file. Empty disables file auditing.
	Path string
	// MaxSizeMB is the rotation size threshold.
	MaxSizeMB int
	// MaxBackups is how many rotated files to retain.
	MaxBackups int
	// MaxAgeDays is how long rotated files are retained.
	MaxAgeDays int
	// Compress rotated files.
	Compress bool
}

// Logger writes structured JSON audit events to a rotating file, separate
// from application logging so compliance retention can differ.
type Logger struct {
	zl *zap.Logger
}

// NewLogger constructs a file-backed audit logger.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 90
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, zapcore.InfoLevel)
	return &Logger{zl: zap.New(core)}, nil
}

// Record appends one audit event.
func (l *Logger) Record(_ context.Context, event Event) {
	if l == nil || l.zl == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.Time("event_time", event.Timestamp),
		zap.String("target", event.Target),
	}
	if event.DecisionID != "" {
		fields = append(fields, zap.String("decision_id", event.DecisionID))
	}
	if event.ActionID != "" {
		fields = append(fields, zap.String("action_id", event.ActionID))
	}
	if event.Detail != "" {
		fields = append(fields, zap.String("detail", event.Detail))
	}
	for k, v := range event.Fields {
		fields = append(fields, zap.String(k, v))
	}
	l.zl.Info(string(event.Type), fields...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.zl == nil {
		return nil
	}
	return l.zl.Sync()
}

// Close flushes and closes the logger.
func (l *Logger) Close() error {
	return l.Sync()
}

// Nop is a Recorder that discards all events, used when file auditing is
// disabled and in tests.
type Nop struct{}

// Record discards the event.
func (Nop) Record(context.Context, Event) {}

// Sync is a no-op.
func (Nop) Sync() error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }
