// Package logger provides the leveled logger used across the LakeStore SDK.
//
// The SDK is a library, so logging defaults to stderr and to the Info level.
// Applications embedding the SDK can raise or lower the level with SetLevel,
// or redirect output entirely with SetOutput.
package logger

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel atomic.Int32
	logger       = stdlog.New(os.Stderr, "", 0)
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SetLevel sets the minimum level that will be emitted. Unknown names are
// ignored so that a bad config value cannot silence the logger.
func SetLevel(level string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		currentLevel.Store(int32(LevelTrace))
	case "DEBUG":
		currentLevel.Store(int32(LevelDebug))
	case "INFO":
		currentLevel.Store(int32(LevelInfo))
	case "WARN":
		currentLevel.Store(int32(LevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LevelError))
	}
}

// SetOutput redirects log output. Intended for tests and for embedding
// applications that want SDK logs in their own sink.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// TraceEnabled reports whether trace-level logging is on. Hot paths check
// this to avoid formatting arguments that would be thrown away.
func TraceEnabled() bool {
	return currentLevel.Load() <= int32(LevelTrace)
}

func log(level Level, format string, v ...any) {
	if int32(level) < currentLevel.Load() {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	message := fmt.Sprintf(format, v...)
	logger.Println(prefix + message)
}

func Trace(format string, v ...any) {
	log(LevelTrace, format, v...)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
