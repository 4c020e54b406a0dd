// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blobstore implements the content-addressed, deduplicated,
// reference-counted blob store backing the artifact index (spec §4.5
// part 2, §4.6, §5 resource policies). Blob bytes live on the
// filesystem under their hex content address; reference counts live
// in a kvstore bucket so they survive restarts.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"

	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/internal/kvstore"
)

// ErrNotFound is returned when a blob has no stored content.
var ErrNotFound = errors.New("blobstore: artifact not found")

// ErrContentMismatch is returned by Put when the supplied content does
// not hash to the expected ArtifactId.
var ErrContentMismatch = errors.New("blobstore: content does not match artifact id")

const refcountBucket = "blobstore.refcounts"

// Store is a content-addressed blob store with reference counting.
// Physical deletion happens only when a blob's reference count drops
// to zero (spec §8 property 10, §5 "last-reference recall triggers
// physical deletion").
type Store struct {
	mu   sync.Mutex
	dir  string
	refs kvstore.Bucket
}

// Open opens (creating if necessary) a blob store rooted at dir, with
// reference counts tracked in kv.
func Open(dir string, kv *kvstore.Store) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: create root %s: %w", dir, err)
	}
	refs, err := kv.Bucket(refcountBucket)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open refcount bucket: %w", err)
	}
	return &Store{dir: dir, refs: refs}, nil
}

func (s *Store) pathFor(id netids.ArtifactId) string {
	return filepath.Join(s.dir, id.Hex())
}

// Put writes content to the store under its content address,
// verifying content actually hashes to id (callers are expected to
// have derived id via netids.ArtifactIdFromContent already, but the
// store re-checks rather than trusting a caller-supplied digest). It
// is idempotent: writing the same content twice is a no-op beyond the
// reference count bump performed by AddRef.
func (s *Store) Put(id netids.ArtifactId, content []byte) error {
	if netids.ArtifactIdFromContent(content) != id {
		return ErrContentMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(id)
	if _, err := os.Stat(path); err == nil {
		return nil // already stored; content-addressing guarantees identical bytes
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: stat %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("blobstore: rename %s: %w", tmp, err)
	}
	return nil
}

// Get returns a blob's content. Returns ErrNotFound if absent.
func (s *Store) Get(id netids.ArtifactId) ([]byte, error) {
	content, err := os.ReadFile(s.pathFor(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", id, err)
	}
	return content, nil
}

// Has reports whether id's content is present locally.
func (s *Store) Has(id netids.ArtifactId) bool {
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

func (s *Store) refCount(id netids.ArtifactId) (uint32, error) {
	raw, err := s.refs.Get(id[:])
	if err != nil {
		return 0, fmt.Errorf("blobstore: read refcount for %s: %w", id, err)
	}
	if raw == nil {
		return 0, nil
	}
	return decodeRefcount(raw), nil
}

// AddRef increments id's reference count, tracking that one more
// index entry now references this artifact.
func (s *Store) AddRef(id netids.ArtifactId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.refCount(id)
	if err != nil {
		return err
	}
	count++
	return s.refs.Put(id[:], encodeRefcount(count))
}

// RemoveRef decrements id's reference count. When it reaches zero the
// blob's bytes are physically deleted and the refcount entry is
// removed (spec §5, §8 property 10).
func (s *Store) RemoveRef(id netids.ArtifactId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.refCount(id)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	count--
	if count == 0 {
		if err := s.refs.Delete(id[:]); err != nil {
			return fmt.Errorf("blobstore: clear refcount for %s: %w", id, err)
		}
		if err := os.Remove(s.pathFor(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("blobstore: delete %s: %w", id, err)
		}
		return nil
	}
	return s.refs.Put(id[:], encodeRefcount(count))
}

// RefCount returns the current reference count for id (0 if unknown).
func (s *Store) RefCount(id netids.ArtifactId) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCount(id)
}

// HashContent computes the content address of content, as used by
// callers constructing a HomeArtifactEntry before calling Put.
func HashContent(content []byte) netids.ArtifactId {
	return netids.ArtifactIdFromContent(content)
}

// HashReader streams r through BLAKE3 without buffering the whole
// content in memory, for callers storing large blobs.
func HashReader(r io.Reader) (netids.ArtifactId, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return netids.ArtifactId{}, fmt.Errorf("blobstore: hash reader: %w", err)
	}
	var out netids.ArtifactId
	copy(out[:], h.Sum(nil))
	return out, nil
}

func encodeRefcount(n uint32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func decodeRefcount(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
