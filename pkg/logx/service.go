package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogPath = "./lnsched.log"

// Service owns the sinks behind the loggers it hands out.
type Service struct {
	mu   sync.Mutex
	file *os.File
	zl   atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger. A log file
// that cannot be opened is reported on the console sink.
func New(cfg Config) (*Service, Logger) {
	setup()
	s := &Service{}
	log := Logger{src: s}
	if err := s.Apply(cfg); err != nil {
		log.Warn("log file unavailable; console only", Err(err))
	}
	return s, log
}

func (s *Service) logger() *zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return zl
	}
	nop := zerolog.Nop()
	return &nop
}

// Apply rebuilds the sinks and level. When the file sink fails the console
// is used alone and the error is returned.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sinks []io.Writer
		file  *os.File
		err   error
	)
	if cfg.File.Enabled {
		if file, err = openLogFile(cfg.File.Path); err == nil {
			sinks = append(sinks, zerolog.SyncWriter(file))
		}
	}
	if cfg.Console || len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(levelOrInfo(cfg.Level)).With().Timestamp().Logger()
	s.zl.Store(&zl)
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
	return err
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat, FormatCaller: plainCaller}
}

func plainCaller(i any) string {
	s, _ := i.(string)
	return s
}
