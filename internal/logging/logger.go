// Package logging configures the process-wide structured logger. A single
// *logrus.Logger is built once at process start (see Initialize) and is
// mostly handed explicitly to constructors; Global returns it for code that
// is not given one (the ADR ingestor reads it this way).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config holds logger configuration.
type Config struct {
	Level      logrus.Level
	OutputFile string // path to log file; empty means stdout only
	MaxSize    int64  // bytes before rotation (default 10MB)
	MaxBackups int    // number of rotated backups to keep (default 3)
	JSONFormat bool   // JSON in production, text when debugging
}

// New builds a *logrus.Logger from Config, rotating the existing output
// file first if it has grown past MaxSize.
func New(cfg Config) (*logrus.Logger, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 10 * 1024 * 1024
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}

	logger := logrus.New()
	logger.SetLevel(cfg.Level)

	writers := []io.Writer{os.Stdout}

	if cfg.OutputFile != "" {
		dir := filepath.Dir(cfg.OutputFile)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
		if err := rotateIfNeeded(cfg.OutputFile, cfg.MaxSize, cfg.MaxBackups); err != nil {
			return nil, fmt.Errorf("rotate log file: %w", err)
		}
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writers = append(writers, file)
	}

	logger.SetOutput(io.MultiWriter(writers...))
	if cfg.JSONFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger, nil
}

// rotateIfNeeded renames path -> path.1 -> path.2 ... up to maxBackups when
// path has grown past maxSize bytes.
func rotateIfNeeded(path string, maxSize int64, maxBackups int) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	for i := maxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", path, i)
		newPath := fmt.Sprintf("%s.%d", path, i+1)
		if _, err := os.Stat(oldPath); err == nil {
			os.Rename(oldPath, newPath)
		}
	}
	return os.Rename(path, path+".1")
}

// Default returns a sensible configuration: text + debug when debugMode,
// otherwise JSON + info, writing under logDir/arc.log.
func Default(debugMode bool, logDir string) Config {
	level := logrus.InfoLevel
	if debugMode {
		level = logrus.DebugLevel
	}
	return Config{
		Level:      level,
		OutputFile: filepath.Join(logDir, "arc.log"),
		MaxSize:    10 * 1024 * 1024,
		MaxBackups: 3,
		JSONFormat: !debugMode,
	}
}

var (
	mu     sync.Mutex
	global *logrus.Logger
)

// Initialize sets the process-wide default logger returned by Global. Safe
// to call once at process start; later calls replace the logger.
func Initialize(cfg Config) (*logrus.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	global = logger
	mu.Unlock()
	return logger, nil
}

// Global returns the process-wide logger, falling back to a bare stdout
// logrus.Logger if Initialize was never called (e.g. in unit tests).
func Global() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return logrus.StandardLogger()
	}
	return global
}
