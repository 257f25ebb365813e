package storage

import (
	"context"

	"github.com/objectfs/msc/pkg/objmeta"
)

// SliceIterator adapts a pre-built, already-ordered slice of
// ObjectMetadata to ObjectIterator. Backends whose native list call
// returns a single page (POSIX, small AIS listings) build their result
// this way rather than implementing a bespoke iterator.
type SliceIterator struct {
	items []objmeta.ObjectMetadata
	pos   int
}

// NewSliceIterator wraps items as an ObjectIterator.
func NewSliceIterator(items []objmeta.ObjectMetadata) *SliceIterator {
	return &SliceIterator{items: items}
}

func (s *SliceIterator) Next(ctx context.Context) bool {
	if s.pos >= len(s.items) {
		return false
	}
	s.pos++
	return true
}

func (s *SliceIterator) Object() objmeta.ObjectMetadata {
	if s.pos == 0 || s.pos > len(s.items) {
		return objmeta.ObjectMetadata{}
	}
	return s.items[s.pos-1]
}

func (s *SliceIterator) Err() error   { return nil }
func (s *SliceIterator) Close() error { return nil }
