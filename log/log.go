// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024-present the sonde authors.

// Package log provides a minimal, injectable logging facility shared by all
// probing components. The default sink is the standard library logger on
// stderr; embedders can replace it with SetLogger.
package log

import (
	"fmt"
	"log"
)

// LogLevel controls which messages reach the sink.
type LogLevel int

const (
	// LevelError logs only errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs informational messages and above
	LevelInfo
	// LevelDebug logs debug messages and above
	LevelDebug
	// LevelTrace logs everything, including per-packet traces
	LevelTrace
)

var currentLevel = LevelInfo

// ParseLogLevel converts a level name to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch s {
	case "error":
		return LevelError, nil
	case "warn":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLogLevel sets the minimum level that gets logged.
func SetLogLevel(level LogLevel) {
	currentLevel = level
}

// Logger is a pluggable set of logging callbacks. Nil members disable the
// corresponding level.
type Logger struct {
	Tracef func(format string, args ...interface{})
	Infof  func(format string, args ...interface{})
	Debugf func(format string, args ...interface{})
	Warnf  func(format string, args ...interface{}) error
	Errorf func(format string, args ...interface{}) error
}

var logger = Logger{
	Tracef: defaultTracef,
	Infof:  defaultInfof,
	Debugf: defaultDebugf,
	Warnf:  defaultWarnf,
	Errorf: defaultErrorf,
}

// SetLogger replaces the default logger callbacks.
func SetLogger(l Logger) {
	logger = l
}

func Tracef(format string, args ...interface{}) {
	if logger.Tracef != nil {
		logger.Tracef(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if logger.Infof != nil {
		logger.Infof(format, args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if logger.Debugf != nil {
		logger.Debugf(format, args...)
	}
}

func Warnf(format string, args ...interface{}) error {
	if logger.Warnf != nil {
		return logger.Warnf(format, args...)
	}
	return nil
}

func Errorf(format string, args ...interface{}) error {
	if logger.Errorf != nil {
		return logger.Errorf(format, args...)
	}
	return nil
}

var (
	defaultTracef = func(format string, args ...interface{}) {
		if currentLevel >= LevelTrace {
			log.Printf("[TRACE] "+format, args...)
		}
	}

	defaultInfof = func(format string, args ...interface{}) {
		if currentLevel >= LevelInfo {
			log.Printf("[INFO] "+format, args...)
		}
	}

	defaultDebugf = func(format string, args ...interface{}) {
		if currentLevel >= LevelDebug {
			log.Printf("[DEBUG] "+format, args...)
		}
	}

	defaultWarnf = func(format string, args ...interface{}) error {
		if currentLevel >= LevelWarn {
			log.Printf("[WARN] "+format, args...)
		}
		return nil
	}

	defaultErrorf = func(format string, args ...interface{}) error {
		if currentLevel >= LevelError {
			log.Printf("[ERROR] "+format, args...)
		}
		return nil
	}
)
