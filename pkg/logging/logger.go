// Package logging writes component-tagged log lines for pw. Output goes to
// a per-process file under ~/.pw/logs so stdout stays machine-readable.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel reads a PW_LOG_LEVEL value. Unknown values fall back to debug.
func ParseLevel(s string) Level {
	for level, name := range levelNames {
		if strings.EqualFold(s, name) {
			return level
		}
	}
	if strings.EqualFold(s, "warning") {
		return LevelWarn
	}
	return LevelDebug
}

const (
	envStderr = "PW_LOG_STDERR"
	envLevel  = "PW_LOG_LEVEL"
)

// Logger is safe for concurrent use. A nil *Logger discards everything.
type Logger struct {
	component string
	threshold Level
	out       *log.Logger
	sink      *fileSink
}

// fileSink is the file shared by a logger and everything derived from it.
type fileSink struct {
	path      string
	file      *os.File
	closeOnce sync.Once
}

func (s *fileSink) close() error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		err = s.file.Close()
	})
	return err
}

var (
	processID   string
	processOnce sync.Once

	dirOnce sync.Once
	dir     string
	dirErr  error
)

// processTag names this process's log file.
func processTag() string {
	processOnce.Do(func() {
		processID = uuid.New().String()
	})
	return processID
}

func logDirectory() (string, error) {
	dirOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			dirErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}
		dir = filepath.Join(home, ".pw", "logs")
		if err := os.MkdirAll(dir, 0750); err != nil {
			dirErr = fmt.Errorf("failed to create log directory: %w", err)
		}
	})
	return dir, dirErr
}

// NewLogger opens ~/.pw/logs/<process-uuid>-pw.log in append mode, shared
// by every component in the process. PW_LOG_STDERR mirrors lines to
// stderr and PW_LOG_LEVEL drops lines below the given level.
//
// When the file cannot be opened the returned logger writes to stderr and
// the error is returned alongside it.
func NewLogger(component string) (*Logger, error) {
	threshold := ParseLevel(os.Getenv(envLevel))

	logDir, err := logDirectory()
	if err != nil {
		return stderrLogger(component, threshold, err), err
	}

	path := filepath.Join(logDir, processTag()+"-pw.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return stderrLogger(component, threshold, err), err
	}

	var w io.Writer = file
	if os.Getenv(envStderr) != "" {
		w = io.MultiWriter(file, os.Stderr)
	}

	return &Logger{
		component: component,
		threshold: threshold,
		out:       log.New(w, "", 0),
		sink:      &fileSink{path: path, file: file},
	}, nil
}

// MustLogger is NewLogger for callers that accept the stderr fallback.
func MustLogger(component string) *Logger {
	logger, _ := NewLogger(component)
	return logger
}

// NewWriterLogger logs every level to w. The logger does not own w.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{component: component, threshold: LevelDebug, out: log.New(w, "", 0)}
}

// Discard returns a logger that drops everything.
func Discard(component string) *Logger {
	return NewWriterLogger(component, io.Discard)
}

func stderrLogger(component string, threshold Level, cause error) *Logger {
	l := &Logger{component: component, threshold: threshold, out: log.New(os.Stderr, "", 0)}
	l.Warnf("file logging unavailable: %v", cause)
	return l
}

// With returns a logger for a sub-component writing to the same place.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.component = l.component + "/" + component
	return &child
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	if l == nil || level < l.threshold {
		return
	}
	stamp := time.Now().Format("2006-01-02 15:04:05.000")
	// log.Logger serializes writes, so derived loggers need no shared lock.
	l.out.Printf("[%s] [%s] [%s] %s", stamp, l.component, level, fmt.Sprintf(format, v...))
}

func (l *Logger) Debugf(format string, v ...interface{}) { l.write(LevelDebug, format, v...) }
func (l *Logger) Infof(format string, v ...interface{})  { l.write(LevelInfo, format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.write(LevelWarn, format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.write(LevelError, format, v...) }

// LogPath is the backing file, empty when the logger is not file-backed.
func (l *Logger) LogPath() string {
	if l == nil || l.sink == nil {
		return ""
	}
	return l.sink.path
}

// Close closes the backing file. Loggers derived with With share it, so
// close only the root. Safe to call more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.sink.close()
}
