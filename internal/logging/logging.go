// Package logging builds the structured logger shared by the service and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/kozaktomas/deepsecurity/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields = logrus.Fields

// New creates a logger writing to stderr and, when cfg.File is set, to a
// size-rotated log file.
func New(cfg config.LogConfig) *logrus.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&formatter.Formatter{
		NoColors:        true,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})

	writers := []io.Writer{out}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}

	logger.SetOutput(io.MultiWriter(writers...))
	logger.SetReportCaller(level >= logrus.DebugLevel)

	return logger
}
