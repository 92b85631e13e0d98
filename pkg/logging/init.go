package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dusted-go/logging/prettylog"
)

var logLevel *slog.LevelVar

// LogLevel returns the current log level as a string.
func LogLevel() string {
	return logLevel.Level().String()
}

// SetLogLevel sets the level of the process-global logger.
func SetLogLevel(level string) error {
	if !isValidLogLevel(level) {
		return unknownLogLevelErr(level)
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return unknownLogLevelErr(level)
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}
	logLevel.Set(l)
	return nil
}

// InitSlog initializes the global slog logger.
//
// level and logFormat determine the initial level and the output format.
func InitSlog(level string, logFormat string) error {
	if !isValidLogFormat(logFormat) {
		return fmt.Errorf("logFormat %q not known, must be one of %v", logFormat, LogFormats)
	}
	logLevel = new(slog.LevelVar)

	var logger *slog.Logger
	switch logFormat {
	case LogText:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	case LogJSON:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	case LogPretty:
		logger = slog.New(prettylog.NewHandler(&slog.HandlerOptions{Level: logLevel}))
	case LogDiscard:
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: logLevel}))
	}
	slog.SetDefault(logger)
	return SetLogLevel(level)
}
