package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102T150405.000"

// RotatingFileWriter is an io.WriteCloser that starts a new file once the
// current one would exceed maxSize. Rotated files are renamed with a
// timestamp suffix and only the newest maxBackups are kept.
type RotatingFileWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	size       int64
	now        func() time.Time
}

// NewRotatingFileWriter opens (or creates) filePath for appending
func NewRotatingFileWriter(filePath string, maxSize int64, maxBackups int) (*RotatingFileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingFileWriter{
		filePath:   filePath,
		maxSize:    maxSize,
		maxBackups: maxBackups,
		now:        time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.maxSize > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Sync flushes the current file to disk
func (w *RotatingFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the current file; further writes fail
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingFileWriter) open() error {
	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	if err := os.Rename(w.filePath, w.backupName(w.now())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	return w.prune()
}

// prune removes the oldest backups beyond maxBackups
func (w *RotatingFileWriter) prune() error {
	backups, err := w.backups()
	if err != nil {
		return err
	}
	if w.maxBackups < 0 || len(backups) <= w.maxBackups {
		return nil
	}
	for _, old := range backups[:len(backups)-w.maxBackups] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// backups lists rotated files oldest first
func (w *RotatingFileWriter) backups() ([]string, error) {
	prefix, ext := w.nameParts()
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(w.filePath), prefix+"-*"+ext))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (w *RotatingFileWriter) backupName(t time.Time) string {
	prefix, ext := w.nameParts()
	return filepath.Join(filepath.Dir(w.filePath), prefix+"-"+t.Format(backupTimeFormat)+ext)
}

func (w *RotatingFileWriter) nameParts() (string, string) {
	base := filepath.Base(w.filePath)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

var _ io.WriteCloser = (*RotatingFileWriter)(nil)
