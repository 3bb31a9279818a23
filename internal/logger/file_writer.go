package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tphakala/nutrigraph/internal/errors"
)

const (
	fileBufferSize    = 32 * 1024
	fileFlushInterval = 5 * time.Second
	logFileMode       = 0o600
)

// FileWriter appends to a log file through a buffer that is flushed on a
// timer and on Close. It is safe for concurrent use.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// OpenFileWriter opens path for appending, creating its directory. A zero
// flushEvery disables the timer so only Flush and Close write through.
func OpenFileWriter(path string, flushEvery time.Duration) (*FileWriter, error) {
	if err := ensureFileDirectory(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFileMode) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w := &FileWriter{
		file: file,
		buf:  bufio.NewWriterSize(file, fileBufferSize),
		stop: make(chan struct{}),
	}
	if flushEvery > 0 {
		w.wg.Go(func() { w.flushLoop(flushEvery) })
	}
	return w, nil
}

func (w *FileWriter) flushLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// a failed flush surfaces on the next Write
			_ = w.Flush()
		}
	}
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	return w.buf.Write(p)
}

// Flush hands buffered entries to the OS without fsync
func (w *FileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Buffered returns the number of bytes not yet written to the file
func (w *FileWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return 0
	}
	return w.buf.Buffered()
}

// Close flushes, syncs and closes the file. Later calls return nil.
func (w *FileWriter) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()

		w.mu.Lock()
		defer w.mu.Unlock()
		err = errors.Join(w.buf.Flush(), w.file.Sync(), w.file.Close())
		w.buf, w.file = nil, nil
	})
	return err
}

func ensureFileDirectory(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == path {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return nil
}
