package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "time/tzdata"

	"github.com/tphakala/nutrigraph/internal/errors"
)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process-wide logger.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cl
}

// Global returns the process-wide logger. Before SetGlobal it is a
// console-only logger at info level on stderr.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			config:  &LoggingConfig{DefaultLevel: DefaultLogLevel},
			tz:      time.Local,
			console: os.Stderr,
			base:    newTextHandler(os.Stderr, slog.LevelInfo, time.Local),
			levels:  map[string]slog.Level{},
			files:   map[string]*FileWriter{},
		}
	}
	return global
}

// CentralLogger routes module loggers to the console, the main JSON log file
// or a per-module JSON file, each with its own level.
type CentralLogger struct {
	config  *LoggingConfig
	tz      *time.Location
	console io.Writer
	base    slog.Handler

	mu     sync.RWMutex
	main   *FileWriter
	files  map[string]*FileWriter // by module, writers may be shared
	levels map[string]slog.Level
}

// NewCentralLogger builds the router from cfg. Console output goes to
// stderr so command output on stdout stays clean.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	return newCentralLogger(cfg, os.Stderr)
}

func newCentralLogger(cfg *LoggingConfig, console io.Writer) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:  cfg,
		tz:      tz,
		console: console,
		files:   make(map[string]*FileWriter),
		levels:  make(map[string]slog.Level, len(cfg.ModuleLevels)),
	}
	for module, level := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(level)
	}

	if err := cl.openBase(); err != nil {
		return nil, err
	}
	if err := cl.openModuleFiles(); err != nil {
		_ = cl.Close()
		return nil, err
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

// openBase sets up the handler used by modules without a file of their own
func (cl *CentralLogger) openBase() error {
	var handlers []slog.Handler
	if c := cl.config.Console; c.Enabled {
		handlers = append(handlers, newTextHandler(cl.console, parseLogLevel(c.Level), cl.tz))
	}
	if f := cl.config.FileOutput; f.Enabled {
		w, err := OpenFileWriter(f.Path, fileFlushInterval)
		if err != nil {
			return err
		}
		cl.main = w
		handlers = append(handlers, newJSONHandler(w, parseLogLevel(f.Level)))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, newTextHandler(cl.console, parseLogLevel(cl.config.DefaultLevel), cl.tz))
	}
	cl.base = combine(handlers)
	return nil
}

// openModuleFiles opens one writer per distinct module file path
func (cl *CentralLogger) openModuleFiles() error {
	byPath := make(map[string]*FileWriter)
	for module, out := range cl.config.ModuleOutputs {
		if !out.Enabled || out.FilePath == "" {
			continue
		}
		w, ok := byPath[out.FilePath]
		if !ok {
			var err error
			if w, err = OpenFileWriter(out.FilePath, fileFlushInterval); err != nil {
				return fmt.Errorf("log file for module %s: %w", module, err)
			}
			byPath[out.FilePath] = w
		}
		cl.files[module] = w
	}
	return nil
}

// Module returns a logger for name. A module with its own output writes JSON
// there, and to the console as well when ConsoleAlso is set.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	level := parseLogLevel(cl.config.DefaultLevel)
	if l, ok := cl.levels[name]; ok {
		level = l
	}
	out, routed := cl.config.ModuleOutputs[name]
	if routed && out.Level != "" {
		level = parseLogLevel(out.Level)
	}

	handler := cl.base
	if w, ok := cl.files[name]; ok {
		handlers := []slog.Handler{newJSONHandler(w, level)}
		if out.ConsoleAlso && cl.config.Console.Enabled {
			handlers = append(handlers, newTextHandler(cl.console, level, cl.tz))
		}
		handler = combine(handlers)
	}

	return &moduleLogger{module: name, logger: slog.New(handler), level: level}
}

// Flush hands buffered file entries to the OS
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.eachWriter((*FileWriter).Flush)
}

// Close flushes and closes every log file
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	err := cl.eachWriter((*FileWriter).Close)
	cl.main = nil
	cl.files = map[string]*FileWriter{}
	return err
}

// eachWriter applies fn once to every distinct writer
func (cl *CentralLogger) eachWriter(fn func(*FileWriter) error) error {
	seen := make(map[*FileWriter]bool)
	var errs []error
	visit := func(w *FileWriter) {
		if w == nil || seen[w] {
			return
		}
		seen[w] = true
		if err := fn(w); err != nil {
			errs = append(errs, err)
		}
	}
	visit(cl.main)
	for _, w := range cl.files {
		visit(w)
	}
	return errors.Join(errs...)
}
