// Package util provides logging and host helpers used throughout fadmin.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level string `koanf:"level"`
	// Directory receives daily JSON log files. Empty disables file output.
	Directory  string `koanf:"directory"`
	MaxBackups int    `koanf:"max_backups"`
	Console    bool   `koanf:"console"`
	// JSON switches console output from the human format to raw JSON,
	// for running under a log collector.
	JSON bool `koanf:"json"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger.
func InitLogger(cfg LogConfig) error {
	return initLogger(cfg, os.Stdout)
}

func initLogger(cfg LogConfig, stdout io.Writer) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	logFilePath := ""

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}

		logFilePath = filepath.Join(cfg.Directory, fmt.Sprintf("fadmin_%s.log", time.Now().Format("2006-01-02")))
		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		writers = append(writers, logFile)
	}

	if cfg.Console {
		if cfg.JSON {
			writers = append(writers, stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        stdout,
				TimeFormat: "15:04:05",
			})
		}
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "fadmin").
		Caller().
		Logger()

	ev := log.Info().Str("level", level.String())
	if logFilePath != "" {
		ev = ev.Str("log_file", logFilePath)
		go cleanOldLogs(cfg.Directory, cfg.MaxBackups)
	}
	ev.Msg("logger initialized")

	return nil
}

// cleanOldLogs removes the oldest daily log files beyond maxBackups.
func cleanOldLogs(directory string, maxBackups int) {
	entries, err := os.ReadDir(directory)
	if err != nil || maxBackups <= 0 {
		return
	}

	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "fadmin_") && filepath.Ext(name) == ".log" {
			logFiles = append(logFiles, name)
		}
	}

	// Names embed the date, so lexical order is chronological.
	sort.Strings(logFiles)
	for i := 0; i < len(logFiles)-maxBackups; i++ {
		path := filepath.Join(directory, logFiles[i])
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
