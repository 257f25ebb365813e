package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
)

// List enumerates every object under prefix, served from the metadata
// provider's index when one is configured, else from the storage
// provider directly. Directory entries are not included.
func (c *Client) List(ctx context.Context, prefix string) ([]objmeta.ObjectMetadata, error) {
	opts := storage.ListOptions{Prefix: prefix}
	var it storage.ObjectIterator
	var err error
	if c.metadata != nil {
		it, err = c.metadata.ListObjects(ctx, opts)
	} else {
		it, err = c.provider.ListObjects(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []objmeta.ObjectMetadata
	for it.Next(ctx) {
		obj := it.Object()
		if obj.Type == objmeta.TypeDirectory {
			continue
		}
		out = append(out, obj)
	}
	return out, it.Err()
}

// SyncOptions controls Sync.
type SyncOptions struct {
	// DeleteUnmatched removes target objects with no source counterpart.
	DeleteUnmatched bool
	// Workers caps concurrent transfers; 0 means 8.
	Workers int
	// Progress, when non-nil, is called once per action with the action
	// name ("copy", "skip", "delete") and the key it applied to.
	Progress func(action, key string)
}

// SyncResult summarizes a completed Sync.
type SyncResult struct {
	Copied      int64
	Skipped     int64
	Deleted     int64
	BytesCopied uint64
}

type syncAction struct {
	key       string
	size      int64
	overwrite bool
	delete    bool
}

// Sync makes target's object set match source's: objects missing from
// the target (or differing in size) are copied, identically-sized
// objects are skipped, and with DeleteUnmatched set, target-only
// objects are removed. Transfers run on a bounded worker pool; the
// first failure cancels the remaining work.
func Sync(ctx context.Context, source, target *Client, opts SyncOptions) (SyncResult, error) {
	var result SyncResult

	srcObjs, err := source.List(ctx, "")
	if err != nil {
		return result, err
	}
	tgtObjs, err := target.List(ctx, "")
	if err != nil {
		return result, err
	}
	tgtByKey := make(map[string]objmeta.ObjectMetadata, len(tgtObjs))
	for _, obj := range tgtObjs {
		tgtByKey[obj.Key] = obj
	}

	var actions []syncAction
	for _, src := range srcObjs {
		tgt, exists := tgtByKey[src.Key]
		delete(tgtByKey, src.Key)
		if exists && tgt.ContentLength == src.ContentLength {
			result.Skipped++
			if opts.Progress != nil {
				opts.Progress("skip", src.Key)
			}
			continue
		}
		actions = append(actions, syncAction{key: src.Key, size: src.ContentLength, overwrite: exists})
	}
	if opts.DeleteUnmatched {
		for key := range tgtByKey {
			actions = append(actions, syncAction{key: key, delete: true})
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}
	if workers > len(actions) && len(actions) > 0 {
		workers = len(actions)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan syncAction)
	var (
		wg       sync.WaitGroup
		firstErr error
		errOnce  sync.Once
		copied   atomic.Int64
		deleted  atomic.Int64
		bytes    atomic.Uint64
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for action := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if action.delete {
					if err := target.Delete(ctx, action.key); err != nil {
						fail(err)
						continue
					}
					deleted.Add(1)
					if opts.Progress != nil {
						opts.Progress("delete", action.key)
					}
					continue
				}
				if err := copyOne(ctx, source, target, action); err != nil {
					fail(err)
					continue
				}
				copied.Add(1)
				bytes.Add(uint64(action.size))
				if opts.Progress != nil {
					opts.Progress("copy", action.key)
				}
			}
		}()
	}

	for _, action := range actions {
		select {
		case jobs <- action:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	result.Copied = copied.Load()
	result.Deleted = deleted.Load()
	result.BytesCopied = bytes.Load()
	return result, firstErr
}

// copyOne transfers a single object. Overwrites go through Delete first
// so a metadata-gated target accepts the subsequent Write.
func copyOne(ctx context.Context, source, target *Client, action syncAction) error {
	body, err := source.Read(ctx, action.key, nil)
	if err != nil {
		return err
	}
	if action.overwrite {
		if err := target.Delete(ctx, action.key); err != nil {
			return err
		}
	}
	return target.Write(ctx, action.key, body, storage.PutOptions{})
}
