package logging

import (
	"fmt"
	"strings"
)

// Different types of logging
const (
	LogText    string = "text"
	LogJSON    string = "json"
	LogPretty  string = "pretty"
	LogDiscard string = "discard"
)

// LogFormats lists the allowed log formats.
var LogFormats = []string{LogText, LogJSON, LogPretty, LogDiscard}

// LogLevels lists the allowed log levels.
var LogLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

func isValidLogFormat(logFormat string) bool {
	for _, lf := range LogFormats {
		if lf == logFormat {
			return true
		}
	}
	return false
}

func isValidLogLevel(level string) bool {
	for _, l := range LogLevels {
		if strings.EqualFold(l, level) {
			return true
		}
	}
	return false
}

func unknownLogLevelErr(level string) error {
	return fmt.Errorf("unknown log level %q, must be one of %v", level, LogLevels)
}
