// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const defaultService = "printpreview"

// Options defines logger initialization parameters.
type Options struct {
	Service    string
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Axiom
	SendToAxiom   bool
	AxiomAPIKey   string
	AxiomOrgID    string
	AxiomDataset  string
	AxiomFlush    time.Duration
	AxiomMinLevel string
}

var fwd *forwarder

// Init installs the global logger. Output goes to stdout, to a rotated file
// when File is set and to Axiom when forwarding is enabled.
func Init(opts Options) error {
	var sink ingestFunc
	if opts.SendToAxiom && opts.AxiomAPIKey != "" {
		f, err := axiomIngest(opts.AxiomAPIKey, opts.AxiomOrgID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "axiom disabled: %v\n", err)
		} else {
			sink = f
		}
	}
	return setup(opts, os.Stdout, sink)
}

func setup(opts Options, console io.Writer, sink ingestFunc) error {
	if opts.Service == "" {
		opts.Service = defaultService
	}
	out := console
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"}
	}
	writers := []io.Writer{out}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}

	Close()
	if sink != nil {
		dataset := opts.AxiomDataset
		if dataset == "" {
			dataset = "dev_" + opts.Service
		}
		fwd = newForwarder(sink, dataset, opts.Service, parseLevel(opts.AxiomMinLevel, zerolog.InfoLevel), opts.AxiomFlush)
		writers = append(writers, fwd)
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(opts.Level, zerolog.InfoLevel)).
		With().Timestamp().Str("service", opts.Service).
		Logger()
	return nil
}

// Close flushes and stops log forwarding.
func Close() {
	if fwd != nil {
		fwd.Close()
		fwd = nil
	}
}

// Session returns a child logger tagged with a preview session id.
func Session(id string) zerolog.Logger {
	return log.With().Str("session_id", id).Logger()
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	if s == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return def
	}
	return lvl
}
