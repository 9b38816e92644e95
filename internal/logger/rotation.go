package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupTimeFormat is embedded in rotated file names:
// seance.log becomes seance-2026-10-19T14-03-07.512.log.
const backupTimeFormat = "2006-01-02T15-04-05.000"

// RotatingWriter is a size-rotated log file. Rotated backups are optionally
// gzip-compressed and removed once older than maxAge. Safe for concurrent use.
type RotatingWriter struct {
	mu       sync.Mutex
	filename string
	maxSize  int64
	maxAge   time.Duration
	compress bool

	file *os.File
	size int64

	now func() time.Time
	bg  sync.WaitGroup
}

// NewRotatingWriter opens (or creates) filename for appending. maxSizeMB of
// zero rotates before every write to a non-empty file; maxAgeDays of zero
// keeps backups forever.
func NewRotatingWriter(filename string, maxSizeMB int, maxAgeDays int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		filename: filename,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		compress: compress,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	w.background(w.prune)
	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past maxSize.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of size.
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return os.ErrClosed
	}
	return w.rotate()
}

// Close closes the active file and waits for pending compression and pruning.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.bg.Wait()
	return err
}

// rotate must be called with mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	backup := w.backupName(w.now())
	if err := os.Rename(w.filename, backup); err != nil {
		return err
	}
	if err := w.open(); err != nil {
		return err
	}

	w.background(func() {
		if w.compress {
			_ = compressFile(backup)
		}
		w.prune()
	})
	return nil
}

func (w *RotatingWriter) background(fn func()) {
	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		fn()
	}()
}

// backupName returns an unused backup path for t; rotations within the same
// millisecond get the next free millisecond.
func (w *RotatingWriter) backupName(t time.Time) string {
	dir := filepath.Dir(w.filename)
	ext := filepath.Ext(w.filename)
	prefix := strings.TrimSuffix(filepath.Base(w.filename), ext) + "-"

	for {
		name := filepath.Join(dir, prefix+t.Format(backupTimeFormat)+ext)
		_, errPlain := os.Stat(name)
		_, errGz := os.Stat(name + ".gz")
		if os.IsNotExist(errPlain) && os.IsNotExist(errGz) {
			return name
		}
		t = t.Add(time.Millisecond)
	}
}

type backupFile struct {
	path      string
	timestamp time.Time
}

// backups lists rotated files, oldest first, dated by the timestamp in
// their name rather than their mtime.
func (w *RotatingWriter) backups() ([]backupFile, error) {
	dir := filepath.Dir(w.filename)
	ext := filepath.Ext(w.filename)
	prefix := strings.TrimSuffix(filepath.Base(w.filename), ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []backupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		stamp := strings.TrimSuffix(name, ".gz")
		if !strings.HasPrefix(stamp, prefix) || !strings.HasSuffix(stamp, ext) {
			continue
		}
		stamp = strings.TrimSuffix(strings.TrimPrefix(stamp, prefix), ext)
		ts, err := time.ParseInLocation(backupTimeFormat, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, backupFile{path: filepath.Join(dir, name), timestamp: ts})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].timestamp.Before(out[j].timestamp)
	})
	return out, nil
}

// prune removes backups older than maxAge.
func (w *RotatingWriter) prune() {
	if w.maxAge <= 0 {
		return
	}
	files, err := w.backups()
	if err != nil {
		return
	}
	cutoff := w.now().Add(-w.maxAge)
	for _, f := range files {
		if f.timestamp.Before(cutoff) {
			_ = os.Remove(f.path)
		}
	}
}

// compressFile gzips path into path.gz and removes the original. A partial
// archive is removed on failure so the plain backup survives.
func compressFile(path string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := path + ".gz.tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			dst.Close()
			os.Remove(tmp)
		}
	}()

	gz := gzip.NewWriter(dst)
	if _, err = io.Copy(gz, src); err != nil {
		return err
	}
	if err = gz.Close(); err != nil {
		return err
	}
	if err = dst.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, path+".gz"); err != nil {
		return err
	}
	return os.Remove(path)
}
