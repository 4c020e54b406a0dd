// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pending implements the durable, quota-enforced per-peer
// pending-delivery queue (spec §4.5): an append-only log of small
// entries, replayed at startup, compacted periodically.
package pending

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/utils/linked"
	"github.com/trumanellis/indranet/wire"
)

// ErrCapacityExceeded is returned by MarkPending when the total
// across-peer cap is reached.
var ErrCapacityExceeded = errors.New("pending: capacity exceeded")

type entryKind byte

const (
	kindMarkPending entryKind = iota
	kindMarkDelivered
	kindMarkDeliveredUpTo
	kindClearPending
)

type logEntry struct {
	kind entryKind
	peer netids.PeerIdentity
	id   netids.EventId
}

func encodeEntry(e logEntry) []byte {
	w := wire.NewWriter(64)
	w.PutByte(byte(e.kind))
	w.PutRaw(e.peer[:])
	w.PutFixed64(e.id.SenderHash)
	w.PutFixed64(e.id.Sequence)
	return w.Bytes()
}

func decodeEntry(data []byte) (logEntry, error) {
	r := wire.NewReader(data)
	kindByte, err := r.GetByte()
	if err != nil {
		return logEntry{}, err
	}
	peerBytes, err := r.GetRaw(32)
	if err != nil {
		return logEntry{}, err
	}
	senderHash, err := r.GetFixed64()
	if err != nil {
		return logEntry{}, err
	}
	sequence, err := r.GetFixed64()
	if err != nil {
		return logEntry{}, err
	}
	e := logEntry{kind: entryKind(kindByte), id: netids.EventId{SenderHash: senderHash, Sequence: sequence}}
	copy(e.peer[:], peerBytes)
	return e, nil
}

// Config bounds the store's admission policy.
type Config struct {
	MaxTotal   int
	MaxPerPeer int
}

// Store is the durable pending-delivery queue.
type Store struct {
	mu sync.Mutex

	path string
	file *os.File
	cfg  Config

	perPeer      map[netids.PeerIdentity]*linked.Hashmap[netids.EventId, struct{}]
	total        int
	entriesSince int // log lines appended since the last compaction
}

// amplificationFactor triggers an eager compaction once the log has
// grown to this many times the live entry count, rather than waiting
// for the periodic tick (SPEC_FULL §3).
const amplificationFactor = 4

// Open replays path (if it exists) to rebuild in-memory state, then
// opens it for appending new entries.
func Open(path string, cfg Config) (*Store, error) {
	s := &Store{
		path:    path,
		cfg:     cfg,
		perPeer: make(map[netids.PeerIdentity]*linked.Hashmap[netids.EventId, struct{}]),
	}

	if err := s.replay(path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("pending: open log: %w", err)
	}
	s.file = f
	return s, nil
}

func (s *Store) replay(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pending: open log for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(string(line))
		if err != nil {
			return fmt.Errorf("pending: malformed log line: %w", err)
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return fmt.Errorf("pending: malformed log entry: %w", err)
		}
		s.applyLocked(entry)
		s.entriesSince++
	}
	return scanner.Err()
}

func (s *Store) applyLocked(e logEntry) {
	switch e.kind {
	case kindMarkPending:
		s.insertLocked(e.peer, e.id)
	case kindMarkDelivered:
		s.removeLocked(e.peer, e.id)
	case kindMarkDeliveredUpTo:
		s.removeUpToLocked(e.peer, e.id)
	case kindClearPending:
		s.clearLocked(e.peer)
	}
}

func (s *Store) insertLocked(peer netids.PeerIdentity, id netids.EventId) {
	hm, ok := s.perPeer[peer]
	if !ok {
		hm = linked.NewHashmap[netids.EventId, struct{}]()
		s.perPeer[peer] = hm
	}
	if _, exists := hm.Get(id); exists {
		return
	}
	hm.Put(id, struct{}{})
	s.total++

	if s.cfg.MaxPerPeer > 0 {
		for hm.Len() > s.cfg.MaxPerPeer {
			oldest, _, ok := hm.OldestEntry()
			if !ok {
				break
			}
			hm.Delete(oldest)
			s.total--
		}
	}
}

func (s *Store) removeLocked(peer netids.PeerIdentity, id netids.EventId) {
	hm, ok := s.perPeer[peer]
	if !ok {
		return
	}
	if _, exists := hm.Get(id); exists {
		hm.Delete(id)
		s.total--
	}
}

func (s *Store) removeUpToLocked(peer netids.PeerIdentity, upTo netids.EventId) {
	hm, ok := s.perPeer[peer]
	if !ok {
		return
	}
	var toRemove []netids.EventId
	hm.Iterate(func(id netids.EventId, _ struct{}) bool {
		if id.SenderHash == upTo.SenderHash && id.Sequence <= upTo.Sequence {
			toRemove = append(toRemove, id)
		}
		return true
	})
	for _, id := range toRemove {
		hm.Delete(id)
		s.total--
	}
}

func (s *Store) clearLocked(peer netids.PeerIdentity) {
	hm, ok := s.perPeer[peer]
	if !ok {
		return
	}
	s.total -= hm.Len()
	hm.Clear()
}

func (s *Store) appendLog(e logEntry) error {
	if s.file == nil {
		return nil // replay-only mode (used by tests constructing a Store without Open)
	}
	line := base64.StdEncoding.EncodeToString(encodeEntry(e))
	if _, err := s.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("pending: append log: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("pending: sync log: %w", err)
	}
	s.entriesSince++
	return nil
}

// MarkPending records that peer is owed event id. Returns
// ErrCapacityExceeded if the total-pending cap would be exceeded.
func (s *Store) MarkPending(peer netids.PeerIdentity, id netids.EventId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxTotal > 0 && s.total >= s.cfg.MaxTotal {
		if hm, ok := s.perPeer[peer]; !ok || func() bool { _, exists := hm.Get(id); return !exists }() {
			return ErrCapacityExceeded
		}
	}

	if err := s.appendLog(logEntry{kind: kindMarkPending, peer: peer, id: id}); err != nil {
		return err
	}
	s.insertLocked(peer, id)
	return s.maybeCompactLocked()
}

// MarkDelivered removes id from peer's pending set.
func (s *Store) MarkDelivered(peer netids.PeerIdentity, id netids.EventId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLog(logEntry{kind: kindMarkDelivered, peer: peer, id: id}); err != nil {
		return err
	}
	s.removeLocked(peer, id)
	return s.maybeCompactLocked()
}

// MarkDeliveredUpTo removes every pending entry for peer with the
// same sender hash and sequence <= upTo.Sequence.
func (s *Store) MarkDeliveredUpTo(peer netids.PeerIdentity, upTo netids.EventId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLog(logEntry{kind: kindMarkDeliveredUpTo, peer: peer, id: upTo}); err != nil {
		return err
	}
	s.removeUpToLocked(peer, upTo)
	return s.maybeCompactLocked()
}

// ClearPending drops every pending entry for peer.
func (s *Store) ClearPending(peer netids.PeerIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLog(logEntry{kind: kindClearPending, peer: peer}); err != nil {
		return err
	}
	s.clearLocked(peer)
	return s.maybeCompactLocked()
}

// PendingFor returns a snapshot of ids still owed to peer, oldest
// first.
func (s *Store) PendingFor(peer netids.PeerIdentity) []netids.EventId {
	s.mu.Lock()
	defer s.mu.Unlock()

	hm, ok := s.perPeer[peer]
	if !ok {
		return nil
	}
	out := make([]netids.EventId, 0, hm.Len())
	hm.Iterate(func(id netids.EventId, _ struct{}) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Total returns the current count of pending entries across all
// peers.
func (s *Store) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) maybeCompactLocked() error {
	if s.entriesSince > amplificationFactor*(s.total+1) {
		return s.compactLocked()
	}
	return nil
}

// Compact rewrites the log as the minimal set of MarkPending entries
// representing current state, then atomically replaces the log file.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactLocked()
}

func (s *Store) compactLocked() error {
	if s.file == nil {
		return nil
	}

	tmpPath := s.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("pending: open compaction file: %w", err)
	}

	written := 0
	for peer, hm := range s.perPeer {
		var writeErr error
		hm.Iterate(func(id netids.EventId, _ struct{}) bool {
			line := base64.StdEncoding.EncodeToString(encodeEntry(logEntry{kind: kindMarkPending, peer: peer, id: id}))
			if _, writeErr = tmp.WriteString(line + "\n"); writeErr != nil {
				return false
			}
			written++
			return true
		})
		if writeErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("pending: write compaction entry: %w", writeErr)
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("pending: sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("pending: close compaction file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("pending: rename compaction file: %w", err)
	}

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("pending: close old log handle: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("pending: reopen compacted log: %w", err)
	}
	s.file = f
	s.entriesSince = written
	return nil
}

// Close flushes and closes the log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
