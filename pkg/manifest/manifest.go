// Package manifest implements the manifest-backed metadata provider: a
// listing/index overlay persisted as a main manifest plus JSON-lines
// part files, so list_objects/glob/info can be served without paying
// per-listing cost against the underlying data store, and so datasets
// can be published as immutable, atomically-committed snapshots.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/mspath"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
	"github.com/objectfs/msc/pkg/utils"
)

const (
	defaultManifestBaseDir = ".msc_manifests"
	indexFilename           = "msc_manifest_index.json"
	partsChildDir           = "parts"
	partPrefix              = "msc_manifest_part"
	partSuffix              = ".jsonl"
	sequencePadding         = 6
	manifestVersion         = "1"
)

// PartReference points at a manifest part file, relative to the main
// manifest's own directory unless it is itself absolute.
type PartReference struct {
	Path string `json:"path"`
}

// Index is the main manifest document: a version tag plus references
// to every part file that together make up the snapshot.
type Index struct {
	Version string          `json:"version"`
	Parts   []PartReference `json:"parts"`
}

// partLine is the on-disk shape of one JSON-lines record in a part
// file: identical to objmeta.ObjectMetadata except content_length is
// renamed size_bytes, per the manifest wire format.
type partLine struct {
	Key          string            `json:"key"`
	SizeBytes    int64             `json:"size_bytes"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	StorageClass string            `json:"storage_class,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Type         string            `json:"type,omitempty"`
}

func (p partLine) toObjectMetadata() objmeta.ObjectMetadata {
	typ := objmeta.TypeFile
	if p.Type == string(objmeta.TypeDirectory) {
		typ = objmeta.TypeDirectory
	}
	return objmeta.ObjectMetadata{
		Key:           p.Key,
		ContentLength: p.SizeBytes,
		LastModified:  p.LastModified,
		Type:          typ,
		ContentType:   p.ContentType,
		ETag:          p.ETag,
		StorageClass:  p.StorageClass,
		Metadata:      p.Metadata,
	}
}

func toPartLine(m objmeta.ObjectMetadata) partLine {
	return partLine{
		Key:          m.Key,
		SizeBytes:    m.ContentLength,
		LastModified: m.LastModified,
		ETag:         m.ETag,
		ContentType:  m.ContentType,
		StorageClass: m.StorageClass,
		Metadata:     m.Metadata,
		Type:         string(m.Type),
	}
}

// Provider is a ManifestMetadataProvider: a listing/index overlay over
// provider, loaded once at construction and mutated through a
// buffer-then-commit protocol so readers never observe a partial
// snapshot.
type Provider struct {
	provider     storage.Provider
	manifestPath string
	writable     bool

	files          map[string]objmeta.ObjectMetadata
	pendingAdds    map[string]objmeta.ObjectMetadata
	pendingRemoves map[string]struct{}

	log *utils.StructuredLogger
}

// New constructs a Provider, loading whatever snapshot is found at
// manifestPath (see findManifestFile). A missing manifest is not
// an error: the provider simply starts out empty.
func New(ctx context.Context, provider storage.Provider, manifestPath string, writable bool) (*Provider, error) {
	log, err := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	if err != nil {
		return nil, err
	}
	p := &Provider{
		provider:       provider,
		manifestPath:   manifestPath,
		writable:       writable,
		files:          map[string]objmeta.ObjectMetadata{},
		pendingAdds:    map[string]objmeta.ObjectMetadata{},
		pendingRemoves: map[string]struct{}{},
		log:            log.WithComponent("manifest"),
	}
	if err := p.load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) load(ctx context.Context) error {
	resolved, err := p.findManifestFile(ctx)
	if err != nil {
		return err
	}
	if resolved == "" {
		p.log.Warnf("no manifest found at %q", p.manifestPath)
		return nil
	}

	content, err := p.provider.GetObject(ctx, resolved, nil)
	if err != nil {
		return err
	}

	var idx Index
	if err := json.Unmarshal(content, &idx); err != nil {
		return errors.Runtime("", resolved, err)
	}
	if idx.Version != manifestVersion {
		return errors.InvalidArgument("manifest version %q is not supported", idx.Version)
	}

	base := path.Dir(resolved)
	for _, ref := range idx.Parts {
		entries, err := p.loadPart(ctx, base, ref)
		if err != nil {
			return err
		}
		for _, m := range entries {
			p.files[m.Key] = m
		}
	}
	return nil
}

func (p *Provider) findManifestFile(ctx context.Context) (string, error) {
	mp := p.manifestPath

	if ok, _ := p.provider.IsFile(ctx, mp); ok {
		return mp, nil
	}
	candidate := path.Join(mp, indexFilename)
	if ok, _ := p.provider.IsFile(ctx, candidate); ok {
		return candidate, nil
	}

	searchRoot := mp
	hasBaseDir := false
	for _, seg := range strings.Split(mp, "/") {
		if seg == defaultManifestBaseDir {
			hasBaseDir = true
			break
		}
	}
	if !hasBaseDir {
		searchRoot = path.Join(mp, defaultManifestBaseDir)
	}

	candidates, err := p.provider.Glob(ctx, path.Join(searchRoot, "*", indexFilename))
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}

func (p *Provider) loadPart(ctx context.Context, manifestBase string, ref PartReference) ([]objmeta.ObjectMetadata, error) {
	remote := ref.Path
	if !path.IsAbs(remote) {
		remote = path.Join(manifestBase, remote)
	}
	content, err := p.provider.GetObject(ctx, remote, nil)
	if err != nil {
		return nil, err
	}

	var out []objmeta.ObjectMetadata
	scanner := bytes.Split(bytes.TrimRight(content, "\n"), []byte("\n"))
	for _, line := range scanner {
		if len(line) == 0 {
			continue
		}
		var pl partLine
		if err := json.Unmarshal(line, &pl); err != nil {
			return nil, errors.Runtime("", remote, err)
		}
		out = append(out, pl.toObjectMetadata())
	}
	return out, nil
}

// ListObjects enumerates keys in sorted order honoring prefix/
// start_after/end_at, synthesizing a directory entry per distinct
// first-segment sub-path when includeDirectories is set.
func (p *Provider) ListObjects(ctx context.Context, opts storage.ListOptions) (storage.ObjectIterator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	prefix := opts.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var keys []string
	for k := range p.files {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if opts.StartAfter != "" && !(opts.StartAfter < k) {
			continue
		}
		if opts.EndAt != "" && k > opts.EndAt {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var items []objmeta.ObjectMetadata
	var pendingDir *objmeta.ObjectMetadata
	for _, k := range keys {
		if opts.IncludeDirectories {
			relative := strings.TrimPrefix(strings.TrimPrefix(k, prefix), "/")
			if idx := strings.IndexByte(relative, '/'); idx >= 0 {
				subdir := relative[:idx]
				dirName := prefix + subdir + "/"
				obj := p.files[k]
				if pendingDir != nil && pendingDir.Key != dirName {
					items = append(items, *pendingDir)
					pendingDir = nil
				}
				if pendingDir == nil {
					pendingDir = &objmeta.ObjectMetadata{
						Key:          dirName,
						Type:         objmeta.TypeDirectory,
						LastModified: obj.LastModified,
					}
				} else if obj.LastModified.After(pendingDir.LastModified) {
					pendingDir.LastModified = obj.LastModified
				}
				continue
			}
		}
		obj := p.files[k]
		obj.Key = k
		items = append(items, obj)
	}
	if pendingDir != nil {
		items = append(items, *pendingDir)
	}

	return storage.NewSliceIterator(items), nil
}

// GetObjectMetadata returns the record for path, optionally consulting
// the pending-adds/removes buffers for not-yet-committed visibility.
func (p *Provider) GetObjectMetadata(ctx context.Context, key string, includePending bool) (objmeta.ObjectMetadata, error) {
	if m, ok := p.files[key]; ok {
		if includePending {
			if _, removed := p.pendingRemoves[key]; removed {
				return objmeta.ObjectMetadata{}, errors.NotFound("", key)
			}
		}
		return m, nil
	}
	if includePending {
		if m, ok := p.pendingAdds[key]; ok {
			return m, nil
		}
	}
	return objmeta.ObjectMetadata{}, errors.NotFound("", key)
}

// Glob matches pattern against every committed key.
func (p *Provider) Glob(ctx context.Context, pattern string) ([]string, error) {
	it, err := p.ListObjects(ctx, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var keys []string
	for it.Next(ctx) {
		keys = append(keys, it.Object().Key)
	}
	matched := make([]string, 0, len(keys))
	for _, k := range keys {
		// Literal-prefix scoping doesn't help here: the manifest is
		// already fully resident in memory, so every key is compared
		// directly against the pattern.
		if mspath.GlobMatch(pattern, k) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

// Realpath reports whether path is a known key. The manifest never
// rewrites paths (unlike a base-path-prefixing storage backend), so
// the returned path is always the input path.
func (p *Provider) Realpath(path string) (string, bool) {
	_, exists := p.files[path]
	return path, exists
}

// AddFile buffers path's metadata for the next commit.
func (p *Provider) AddFile(path string, metadata objmeta.ObjectMetadata) error {
	if !p.writable {
		return errors.InvalidArgument("manifest is not writable: attempted to add %s", path)
	}
	p.pendingAdds[path] = metadata
	return nil
}

// RemoveFile buffers path's removal for the next commit.
func (p *Provider) RemoveFile(path string) error {
	if !p.writable {
		return errors.InvalidArgument("manifest is not writable: attempted to remove %s", path)
	}
	if _, ok := p.files[path]; !ok {
		return errors.NotFound("", path)
	}
	p.pendingRemoves[path] = struct{}{}
	return nil
}

// IsWritable reports whether this provider accepts AddFile/RemoveFile.
func (p *Provider) IsWritable() bool { return p.writable }

// CommitUpdates applies the pending buffers and publishes a brand-new
// manifest snapshot. Part files are written before the main manifest,
// so concurrent readers always see either the prior snapshot in full or
// the new one in full, never a partial one.
func (p *Provider) CommitUpdates(ctx context.Context) error {
	if len(p.pendingAdds) == 0 && len(p.pendingRemoves) == 0 {
		return nil
	}

	for k, v := range p.pendingAdds {
		p.files[k] = v
	}
	p.pendingAdds = map[string]objmeta.ObjectMetadata{}
	for k := range p.pendingRemoves {
		delete(p.files, k)
	}
	p.pendingRemoves = map[string]struct{}{}

	entries := make([]objmeta.ObjectMetadata, 0, len(p.files))
	for k, m := range p.files {
		m.Key = k
		entries = append(entries, m)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	return p.writeSnapshot(ctx, entries)
}

func (p *Provider) writeSnapshot(ctx context.Context, entries []objmeta.ObjectMetadata) error {
	manifestBase := manifestBaseDir(p.manifestPath)

	timestamp := time.Now().UTC().Format(time.RFC3339)
	snapshotDir := path.Join(manifestBase, defaultManifestBaseDir, timestamp)

	partPath := path.Join(partsChildDir, partFileName(1))

	var buf bytes.Buffer
	for i, m := range entries {
		if i > 0 {
			buf.WriteByte('\n')
		}
		data, err := json.Marshal(toPartLine(m))
		if err != nil {
			return errors.Runtime("", p.manifestPath, err)
		}
		buf.Write(data)
	}
	if err := p.provider.PutObject(ctx, path.Join(snapshotDir, partPath), buf.Bytes(), storage.PutOptions{}); err != nil {
		return err
	}

	idx := Index{Version: manifestVersion, Parts: []PartReference{{Path: partPath}}}
	idxData, err := json.Marshal(idx)
	if err != nil {
		return errors.Runtime("", p.manifestPath, err)
	}
	return p.provider.PutObject(ctx, path.Join(snapshotDir, indexFilename), idxData, storage.PutOptions{})
}

func manifestBaseDir(manifestPath string) string {
	segments := strings.Split(manifestPath, "/")
	for i, seg := range segments {
		if seg == defaultManifestBaseDir {
			return strings.Join(segments[:i], "/")
		}
	}
	return manifestPath
}

func partFileName(seq int) string {
	return partPrefix + zeroPad(seq, sequencePadding) + partSuffix
}

func zeroPad(n, width int) string {
	s := itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
