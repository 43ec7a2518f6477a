package recording

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"goa.design/chatstream/runtime/chatstream/message"
)

// InMemStore implements Store in memory. It is intended for tests and local
// development; it is not durable.
type InMemStore struct {
	mu      sync.Mutex
	nextSeq map[string]int64
	entries map[string][]Entry
	final   map[string]Recording
}

// NewInMemStore returns a new in-memory recording store.
func NewInMemStore() *InMemStore {
	return &InMemStore{
		nextSeq: make(map[string]int64),
		entries: make(map[string][]Entry),
		final:   make(map[string]Recording),
	}
}

// Append implements Store.
func (s *InMemStore) Append(_ context.Context, recordingID string, e Entry) error {
	if recordingID == "" {
		return fmt.Errorf("recording id is required")
	}
	if e.Event == nil {
		return fmt.Errorf("event is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[recordingID] + 1
	s.nextSeq[recordingID] = seq
	e.Seq = seq
	s.entries[recordingID] = append(s.entries[recordingID], e)
	return nil
}

// Finalize implements Store.
func (s *InMemStore) Finalize(_ context.Context, recordingID string, messages []message.UIMessage) error {
	if recordingID == "" {
		return fmt.Errorf("recording id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.final[recordingID]
	rec.FinalMessages = append([]message.UIMessage(nil), messages...)
	rec.Finalized = true
	s.final[recordingID] = rec
	return nil
}

// List implements Store.
func (s *InMemStore) List(_ context.Context, recordingID, cursor string, limit int) (Page, error) {
	if recordingID == "" {
		return Page{}, fmt.Errorf("recording id is required")
	}
	if limit <= 0 {
		return Page{}, fmt.Errorf("limit must be > 0")
	}

	var after int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		after = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.entries[recordingID]
	if len(all) == 0 {
		return Page{}, nil
	}

	start := 0
	if after > 0 {
		start = int(after)
		if start >= len(all) {
			return Page{}, nil
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	entries := append([]Entry(nil), all[start:end]...)
	var next string
	if end < len(all) {
		next = strconv.FormatInt(entries[len(entries)-1].Seq, 10)
	}

	return Page{Entries: entries, NextCursor: next}, nil
}

// Get implements Store.
func (s *InMemStore) Get(_ context.Context, recordingID string) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.entries[recordingID]
	final, hasFinal := s.final[recordingID]
	if !ok && !hasFinal {
		return Recording{}, ErrNotFound
	}
	rec := Recording{Entries: append([]Entry(nil), entries...)}
	if hasFinal {
		rec.FinalMessages = append([]message.UIMessage(nil), final.FinalMessages...)
		rec.Finalized = final.Finalized
	}
	return rec, nil
}
