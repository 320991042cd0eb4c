package nodegrpc

import (
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/grpc/grpclog"
)

var _ grpclog.LoggerV2 = (*SlogLogger)(nil)

// SlogLogger adapts slog.Logger to grpclog.LoggerV2. gRPC info messages
// are logged at debug level.
type SlogLogger struct {
	logger    *slog.Logger // nil follows slog.Default()
	verbosity int
}

// NewSlogLogger creates a new slog adapter. A nil logger resolves
// slog.Default() on every call.
func NewSlogLogger(logger *slog.Logger, verbosity int) *SlogLogger {
	return &SlogLogger{logger: logger, verbosity: verbosity}
}

// SetLogger routes gRPC's internal logging to logger. It must be called
// before any other gRPC function.
func SetLogger(logger *slog.Logger) {
	grpclog.SetLoggerV2(NewSlogLogger(logger, 0))
}

func (l *SlogLogger) log() *slog.Logger {
	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "grpc")
}

func (l *SlogLogger) Info(args ...any)                 { l.log().Debug(fmt.Sprint(args...)) }
func (l *SlogLogger) Infoln(args ...any)               { l.log().Debug(sprintln(args...)) }
func (l *SlogLogger) Infof(format string, args ...any) { l.log().Debug(fmt.Sprintf(format, args...)) }

func (l *SlogLogger) Warning(args ...any)                 { l.log().Warn(fmt.Sprint(args...)) }
func (l *SlogLogger) Warningln(args ...any)               { l.log().Warn(sprintln(args...)) }
func (l *SlogLogger) Warningf(format string, args ...any) { l.log().Warn(fmt.Sprintf(format, args...)) }

func (l *SlogLogger) Error(args ...any)                 { l.log().Error(fmt.Sprint(args...)) }
func (l *SlogLogger) Errorln(args ...any)               { l.log().Error(sprintln(args...)) }
func (l *SlogLogger) Errorf(format string, args ...any) { l.log().Error(fmt.Sprintf(format, args...)) }

func (l *SlogLogger) Fatal(args ...any) {
	l.log().Error(fmt.Sprint(args...))
	os.Exit(1)
}

func (l *SlogLogger) Fatalln(args ...any) {
	l.log().Error(sprintln(args...))
	os.Exit(1)
}

func (l *SlogLogger) Fatalf(format string, args ...any) {
	l.log().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// V reports whether verbosity level v is enabled
func (l *SlogLogger) V(v int) bool {
	return v <= l.verbosity
}

func sprintln(args ...any) string {
	s := fmt.Sprintln(args...)
	return s[:len(s)-1]
}
