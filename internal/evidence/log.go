package evidence

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// TimestampLayout is the timestamp format of every evidence line
const TimestampLayout = "2006-01-02 15:04:05"

// Evidence file names inside the log directory
const (
	ConnectionsFile = "connections.log"
	AlertsFile      = "alerts.log"
	FileAccessFile  = "file_access.log"
	ProcessFile     = "process_monitor.log"
)

// FormatLine renders one evidence line without the trailing newline
func FormatLine(ts time.Time, severity, message string) string {
	// embedded newlines would break the one-record-per-line contract
	message = strings.NewReplacer("\r", " ", "\n", " ").Replace(message)
	return fmt.Sprintf("[%s] [%s] %s", ts.Format(TimestampLayout), severity, message)
}

// Log is an append-only line log with size-based rotation.
// Each line is written with a single write call under the mutex.
type Log struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	maxBytes int64
	now      func() time.Time
	archives sync.WaitGroup
	closed   bool
}

// Open opens (or creates) an evidence log in append mode
func Open(path string, maxBytes int64) (*Log, error) {
	l := &Log{
		path:     path,
		maxBytes: maxBytes,
		now:      time.Now,
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) open() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open evidence log %s: %w", l.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat evidence log %s: %w", l.path, err)
	}
	l.file = file
	l.size = info.Size()
	return nil
}

// Write appends one formatted line
func (l *Log) Write(severity, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return os.ErrClosed
	}

	line := FormatLine(l.now(), severity, message) + "\n"
	if l.maxBytes > 0 && l.size > 0 && l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.WriteString(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write evidence line: %w", err)
	}
	return nil
}

// rotate renames the active file aside, reopens a fresh one and gzips the
// old one in the background. Caller holds l.mu.
func (l *Log) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close evidence log for rotation: %w", err)
	}

	rotated := fmt.Sprintf("%s.%s", l.path, l.now().Format("20060102T150405.000000000"))
	if err := os.Rename(l.path, rotated); err != nil {
		// keep logging into the original file rather than losing lines
		if reopenErr := l.open(); reopenErr != nil {
			return errors.Join(err, reopenErr)
		}
		return fmt.Errorf("failed to rotate evidence log: %w", err)
	}

	if err := l.open(); err != nil {
		return err
	}

	l.archives.Add(1)
	go func() {
		defer l.archives.Done()
		_ = compressFile(rotated)
	}()
	return nil
}

// compressFile gzips src to src.gz and removes src on success
func compressFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dst := src + ".gz"
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(out)
	zw.Name = filepath.Base(src)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Close flushes pending archives and closes the file
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	err := l.file.Close()
	l.mu.Unlock()

	l.archives.Wait()
	return err
}

// Set groups the four evidence logs of one agent run
type Set struct {
	Connections *Log
	Alerts      *Log
	Files       *Log
	Processes   *Log
}

// OpenSet creates dir if needed and opens all evidence logs in it
func OpenSet(dir string, maxBytes int64) (*Set, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	set := &Set{}
	targets := []struct {
		dst  **Log
		name string
	}{
		{&set.Connections, ConnectionsFile},
		{&set.Alerts, AlertsFile},
		{&set.Files, FileAccessFile},
		{&set.Processes, ProcessFile},
	}
	for _, target := range targets {
		log, err := Open(filepath.Join(dir, target.name), maxBytes)
		if err != nil {
			set.Close()
			return nil, err
		}
		*target.dst = log
	}
	return set, nil
}

// Close closes every opened log
func (s *Set) Close() error {
	var errs []error
	for _, log := range []*Log{s.Connections, s.Alerts, s.Files, s.Processes} {
		if log == nil {
			continue
		}
		if err := log.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
