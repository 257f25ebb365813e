// Package filesystem implements the local-disk cache.Backend: objects
// are stored under the cache root preserving their key's directory
// structure, with cross-process coordination via advisory file locks
// and etag freshness tracked through an extended attribute.
package filesystem

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/objectfs/msc/pkg/cache"
)

const refreshLockName = ".cache_refresh.lock"

// Backend is the filesystem-backed cache.Backend variant.
type Backend struct {
	root   string
	config cache.Config
	rng    *rand.Rand

	lastRefresh time.Time
}

// New constructs a filesystem cache rooted at <cachePath>/<profile>.
func New(cachePath, profile string, cfg cache.Config) (*Backend, error) {
	root := filepath.Join(cachePath, profile)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &Backend{root: root, config: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
}

func (b *Backend) realPath(key string) (path string, etag string) {
	p, e := cache.SplitKey(key)
	return filepath.Join(b.root, filepath.FromSlash(p)), e
}

func (b *Backend) lockPath(realPath string) string {
	return filepath.Join(filepath.Dir(realPath), "."+filepath.Base(realPath)+".lock")
}

func (b *Backend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	realPath, etag := b.realPath(key)
	if b.config.UseEtag && etag != "" {
		cur, err := readEtag(realPath)
		if err != nil || cur != etag {
			return nil, false, nil
		}
	}
	data, err := os.ReadFile(realPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	b.touchAtime(realPath)
	return data, true, nil
}

func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	realPath, etag := b.realPath(key)
	if b.config.UseEtag && etag != "" {
		cur, err := readEtag(realPath)
		if err != nil || cur != etag {
			return nil, false, nil
		}
	}
	f, err := os.Open(realPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	b.touchAtime(realPath)
	return f, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, source cache.Source) error {
	realPath, etag := b.realPath(key)
	if err := os.MkdirAll(filepath.Dir(realPath), 0o750); err != nil {
		return err
	}

	if source.IsPath() {
		if err := os.Rename(source.Path, realPath); err != nil {
			if !crossDevice(err) {
				return err
			}
			if err := copyThenRemove(source.Path, realPath); err != nil {
				return err
			}
		}
	} else {
		if err := atomicWrite(realPath, source.Bytes); err != nil {
			return err
		}
	}

	if err := os.Chmod(realPath, 0o600); err != nil {
		return err
	}
	if etag != "" {
		_ = writeEtag(realPath, etag) // a failed xattr write is ignored: it does not fail Set and is not logged
	}
	b.touchAtime(realPath)

	if time.Since(b.lastRefresh) >= b.config.RefreshInterval && b.config.RefreshInterval > 0 {
		go b.RefreshCache(context.Background())
	}
	return nil
}

func (b *Backend) Contains(ctx context.Context, key string) (bool, error) {
	realPath, etag := b.realPath(key)
	info, err := os.Stat(realPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if b.config.UseEtag && etag != "" {
		cur, err := readEtag(realPath)
		if err != nil || cur != etag {
			return false, nil
		}
	}
	return true, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	realPath, _ := b.realPath(key)
	if err := os.Remove(realPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = os.Remove(b.lockPath(realPath))
	return nil
}

func (b *Backend) CacheSize(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(b.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isLockOrHidden(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func (b *Backend) RefreshCache(ctx context.Context) (bool, error) {
	lockFile := filepath.Join(b.root, refreshLockName)
	fl := flock.New(lockFile)
	locked, err := fl.TryLock()
	if err != nil || !locked {
		return false, err
	}
	defer fl.Unlock()

	b.lastRefresh = time.Now()

	if b.config.EvictionPolicy == cache.PolicyNone || b.config.EvictionPolicy == "" {
		return true, nil
	}

	items, err := b.collectItems()
	if err != nil {
		return true, err
	}

	var size int64
	for _, it := range items {
		size += it.FileSize
	}
	if size <= b.config.MaxCacheSize {
		return true, nil
	}

	ordered := cache.Sort(b.config.EvictionPolicy, items, b.rng)
	for _, it := range ordered {
		if size <= b.config.MaxCacheSize {
			break
		}
		if err := os.Remove(it.FilePath); err != nil && !os.IsNotExist(err) {
			continue
		}
		_ = os.Remove(b.lockPath(it.FilePath))
		size -= it.FileSize
	}
	return true, nil
}

func (b *Backend) collectItems() ([]cache.Item, error) {
	var items []cache.Item
	err := filepath.WalkDir(b.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isLockOrHidden(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		items = append(items, cache.Item{
			FilePath:  path,
			FileSize:  info.Size(),
			Atime:     accessTime(info),
			Mtime:     info.ModTime(),
			HashedKey: path,
		})
		return nil
	})
	return items, err
}

// AcquireLock returns an advisory cross-process mutex scoped to key,
// backed by a sibling ".<basename>.lock" file.
func (b *Backend) AcquireLock(key string) (cache.Lock, error) {
	realPath, _ := b.realPath(key)
	if err := os.MkdirAll(filepath.Dir(realPath), 0o750); err != nil {
		return nil, err
	}
	return &fileLock{fl: flock.New(b.lockPath(realPath))}, nil
}

type fileLock struct {
	fl *flock.Flock
}

// lockTimeout is the default advisory-lock wait before giving up, per
// the shared-resource policy's 10-minute default.
const lockTimeout = 10 * time.Minute

func (l *fileLock) Lock(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	_, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	return err
}

func (l *fileLock) Unlock() error { return l.fl.Unlock() }

func (b *Backend) touchAtime(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	_ = os.Chtimes(path, time.Now(), info.ModTime())
}

func atomicWrite(destination string, data []byte) error {
	dir := filepath.Dir(destination)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, destination)
}

func copyThenRemove(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := atomicWrite(dest, data); err != nil {
		return err
	}
	return os.Remove(src)
}

func crossDevice(err error) bool {
	return strings.Contains(err.Error(), "invalid cross-device link")
}

func isLockOrHidden(name string) bool {
	return strings.HasSuffix(name, ".lock") || strings.HasPrefix(name, ".")
}
