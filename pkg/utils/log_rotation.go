package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures size-based log rotation.
type RotationConfig struct {
	// Filename is the active log file.
	Filename string
	// MaxSizeBytes rotates when the file would exceed this size
	// (0 disables size-based rotation).
	MaxSizeBytes int64
	// MaxBackups caps how many rotated files are kept (0 keeps all).
	MaxBackups int
}

// LogRotator is an io.Writer that rotates its underlying file when it
// reaches the configured size, renaming the old file with a UTC
// timestamp suffix and pruning the oldest backups past MaxBackups.
type LogRotator struct {
	mu   sync.Mutex
	cfg  RotationConfig
	file *os.File
	size int64
}

// NewLogRotator opens (or creates, appending) cfg.Filename.
func NewLogRotator(cfg *RotationConfig) (*LogRotator, error) {
	if cfg == nil || cfg.Filename == "" {
		return nil, fmt.Errorf("utils: rotation config needs a filename")
	}
	r := &LogRotator{cfg: *cfg}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LogRotator) open() error {
	if err := os.MkdirAll(filepath.Dir(r.cfg.Filename), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first when the write would push
// the file past the size limit.
func (r *LogRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxSizeBytes > 0 && r.size+int64(len(p)) > r.cfg.MaxSizeBytes && r.size > 0 {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *LogRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	backup := r.backupName(time.Now().UTC())
	if err := os.Rename(r.cfg.Filename, backup); err != nil {
		return err
	}
	if err := r.pruneBackups(); err != nil {
		return err
	}
	return r.open()
}

// backupName is <name>-<timestamp><ext>; the timestamp sorts
// lexicographically in rotation order.
func (r *LogRotator) backupName(now time.Time) string {
	ext := filepath.Ext(r.cfg.Filename)
	stem := strings.TrimSuffix(r.cfg.Filename, ext)
	return fmt.Sprintf("%s-%s%s", stem, now.Format("20060102T150405.000"), ext)
}

func (r *LogRotator) pruneBackups() error {
	if r.cfg.MaxBackups <= 0 {
		return nil
	}
	backups, err := r.backupFiles()
	if err != nil {
		return err
	}
	for len(backups) > r.cfg.MaxBackups {
		oldest := backups[0]
		backups = backups[1:]
		if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// backupFiles lists rotated files oldest first.
func (r *LogRotator) backupFiles() ([]string, error) {
	ext := filepath.Ext(r.cfg.Filename)
	stem := strings.TrimSuffix(r.cfg.Filename, ext)
	matches, err := filepath.Glob(stem + "-*" + ext)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Rotate forces an immediate rotation.
func (r *LogRotator) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotate()
}

// Sync flushes the active file.
func (r *LogRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close closes the active file.
func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
