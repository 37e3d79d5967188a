package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	logFile     *os.File
	logDir      string
	currentDay  string
	logMu       sync.Mutex
	fileLogging bool
	out         io.Writer = os.Stderr
	color             = true
	minLevel          = LevelInfo
)

// Init enables daily log files (lumprov-YYYY-MM-DD.log) under dir.
// An empty dir keeps console-only logging.
func Init(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	logMu.Lock()
	defer logMu.Unlock()
	logDir = dir
	fileLogging = true
	if err := rotateLocked(time.Now()); err != nil {
		fileLogging = false
		return err
	}
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	fileLogging = false
}

// SetOutput redirects console output. Color is disabled for anything but
// the process's own stdout/stderr.
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	out = w
	color = w == os.Stdout || w == os.Stderr
}

// SetVerbose enables Debug output.
func SetVerbose(v bool) {
	logMu.Lock()
	defer logMu.Unlock()
	if v {
		minLevel = LevelDebug
	} else {
		minLevel = LevelInfo
	}
}

func Debug(format string, args ...interface{}) {
	log(LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	log(LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	log(LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	log(LevelError, format, args...)
}

func log(lvl Level, format string, args ...interface{}) {
	nowTime := time.Now()
	now := nowTime.Format("2006/01/02 15:04:05")
	msg := fmt.Sprintf(format, args...)
	var label, colorStart string
	switch lvl {
	case LevelDebug:
		colorStart = "\033[36m" // Cyan
		label = "[DBUG] "
	case LevelInfo:
		colorStart = "\033[32m" // Green
		label = "[INFO] "
	case LevelWarn:
		colorStart = "\033[33m" // Yellow
		label = "[WARN] "
	case LevelError:
		colorStart = "\033[31m" // Red
		label = "[EROR] "
	}

	logMu.Lock()
	defer logMu.Unlock()

	// File output gets every level, without color.
	if fileLogging {
		line := fmt.Sprintf("%s %s%s\n", now, label, msg)
		if err := rotateLocked(nowTime); err == nil && logFile != nil {
			_, _ = logFile.WriteString(line)
		}
	}

	if lvl < minLevel {
		return
	}
	if color {
		fmt.Fprintf(out, "%s %s%s\033[0m%s\n", now, colorStart, label, msg)
		return
	}
	fmt.Fprintf(out, "%s %s%s\n", now, label, msg)
}

func rotateLocked(t time.Time) error {
	if logDir == "" {
		return nil
	}
	day := t.Format("2006-01-02")
	if logFile != nil && currentDay == day {
		return nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	filePath := filepath.Join(logDir, "lumprov-"+day+".log")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	logFile = f
	currentDay = day
	return nil
}
