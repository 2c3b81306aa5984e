package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

type logBackend struct {
	stdOut          io.Writer
	logRotator      *rotator.Rotator
	bknd            *slog.Backend
	defaultLogLevel slog.Level
	logLevels       map[string]slog.Level

	loggersMtx sync.Mutex
	loggers    map[string]slog.Logger
}

// newLogBackend creates the log backend. debugLevel is either a single level
// or a comma separated list that may include subsys=level entries.
func newLogBackend(stdOut io.Writer, logFile, debugLevel string, maxLogFiles int) (*logBackend, error) {
	var logRotator *rotator.Rotator
	if logFile != "" {
		logDir := filepath.Dir(logFile)
		err := os.MkdirAll(logDir, 0700)
		if err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logRotator, err = rotator.New(logFile, 1024, false, maxLogFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
	}

	b := &logBackend{
		stdOut:          stdOut,
		logRotator:      logRotator,
		defaultLogLevel: slog.LevelInfo,
		logLevels:       make(map[string]slog.Level),
		loggers:         make(map[string]slog.Logger),
	}
	b.bknd = slog.NewBackend(b)

	// Parse the debugLevel string into log levels for each subsystem.
	for _, v := range strings.Split(debugLevel, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		fields := strings.Split(v, "=")
		var ok bool
		switch len(fields) {
		case 1:
			b.defaultLogLevel, ok = slog.LevelFromString(fields[0])
		case 2:
			var level slog.Level
			level, ok = slog.LevelFromString(fields[1])
			b.logLevels[strings.ToUpper(fields[0])] = level
		}
		if !ok {
			b.close()
			return nil, fmt.Errorf("unable to parse %q as a level or "+
				"subsys=level debuglevel string", v)
		}
	}

	return b, nil
}

func (bknd *logBackend) Write(b []byte) (int, error) {
	if bknd.stdOut != nil {
		bknd.stdOut.Write(b)
	}
	if bknd.logRotator != nil {
		bknd.logRotator.Write(b)
	}

	return len(b), nil
}

// logger returns the logger of a subsystem, creating it if needed.
func (bknd *logBackend) logger(subsys string) slog.Logger {
	bknd.loggersMtx.Lock()
	defer bknd.loggersMtx.Unlock()

	if l, ok := bknd.loggers[subsys]; ok {
		return l
	}

	l := bknd.bknd.Logger(subsys)
	bknd.loggers[subsys] = l
	if level, ok := bknd.logLevels[subsys]; ok {
		l.SetLevel(level)
	} else {
		l.SetLevel(bknd.defaultLogLevel)
	}

	return l
}

func (bknd *logBackend) close() {
	if bknd.logRotator != nil {
		bknd.logRotator.Close()
	}
}
