// Package logging builds the component loggers used across satchel.
//
// Every package takes a plain *log.Logger. This package decides where those
// loggers write: stderr by default, or a size-rotated file when log.file is
// configured.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/satchel-learn/satchel/internal/config"
)

// Logging hands out prefixed loggers sharing one output.
type Logging struct {
	out    io.Writer
	closer io.Closer
}

// New returns a Logging writing to stderr, or to cfg.File with rotation when
// it is set.
func New(cfg config.LogConfig) *Logging {
	if cfg.File == "" {
		return &Logging{out: os.Stderr}
	}
	_ = os.MkdirAll(filepath.Dir(cfg.File), 0755)
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return &Logging{out: rotator, closer: rotator}
}

// Discard returns a Logging that drops everything.
func Discard() *Logging {
	return &Logging{out: io.Discard}
}

// Logger returns a logger prefixed with the component name, e.g. "[sync] ".
func (l *Logging) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (l *Logging) Writer() io.Writer {
	return l.out
}

// Close flushes and closes the log file, if any.
func (l *Logging) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
