// Package logging writes one session-scoped log file shared by every
// component of a run. Each process gets a fresh session id at first use and
// all components append to ~/.pilo/logs/<session-id>-pilo.log, so one file
// tells the whole story of one task run. PILO_LOG_DIR overrides the
// directory.
//
// Every level writes unconditionally; filtering is a reader's job.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level tags a log entry.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// The whole package shares one sink: a single file handle (or stderr when
// the file cannot be opened) guarded by one mutex, so entries from the
// task, browser, and snapshot components interleave but never tear.
var (
	mu        sync.Mutex
	opened    bool
	openErr   error
	sessionID string
	logPath   string
	file      *os.File
	sink      io.Writer
)

// ensureOpen initializes the shared sink. Callers hold mu.
func ensureOpen() error {
	if opened {
		return openErr
	}
	opened = true
	sessionID = uuid.New().String()
	sink = os.Stderr

	dir := os.Getenv("PILO_LOG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			openErr = fmt.Errorf("failed to resolve home directory: %w", err)
			return openErr
		}
		dir = filepath.Join(home, ".pilo", "logs")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		openErr = fmt.Errorf("failed to create log directory: %w", err)
		return openErr
	}

	logPath = filepath.Join(dir, sessionID+"-pilo.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		logPath = ""
		openErr = fmt.Errorf("failed to open log file: %w", err)
		return openErr
	}
	file = f
	sink = f
	return nil
}

// Logger labels entries with a component name. All loggers in a process
// write to the same session file.
type Logger struct {
	component string
}

// NewLogger returns a logger for the given component. When the session
// file cannot be opened the logger still works, writing to stderr, and the
// error tells the caller it is in fallback mode.
func NewLogger(component string) (*Logger, error) {
	mu.Lock()
	defer mu.Unlock()
	err := ensureOpen()
	return &Logger{component: component}, err
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if sink == nil {
		sink = os.Stderr
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(sink, "[%s] [%s] [%s] %s\n", timestamp, l.component, level, fmt.Sprintf(format, v...))
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) { l.logf(LevelInfo, format, v...) }

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) { l.logf(LevelWarn, format, v...) }

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v...) }

// SessionID returns the id shared by every logger in this process.
func (l *Logger) SessionID() string {
	mu.Lock()
	defer mu.Unlock()
	return sessionID
}

// LogPath returns the session file path, or "" in stderr fallback mode.
func (l *Logger) LogPath() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// Close closes the shared session file. Later writes from any logger fall
// back to stderr. Safe to call more than once.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	sink = os.Stderr
	return err
}
