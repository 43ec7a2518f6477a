// Package recording captures the inputs a StreamProcessor observed during a
// run, and the final conversation it produced, so a run can be replayed
// later against a fresh processor to check for deterministic reproduction.
//
// A recording is the append-only log of every event passed to ProcessChunk,
// in arrival order, plus the UIMessages present once the stream finished.
package recording

import (
	"context"
	"errors"
	"time"

	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/message"
)

type (
	// Entry is a single immutable input observed by a StreamProcessor,
	// recorded with the timestamp the caller supplied for it.
	Entry struct {
		// Seq is the store-assigned, monotonically increasing position of
		// this entry within its recording.
		Seq int64
		// Event is the input that was passed to ProcessChunk.
		Event event.Event
		// At is the timestamp supplied by the caller; the StreamProcessor
		// records the event's own Time().
		At time.Time
	}

	// Recording is the full captured history of one run: its ordered input
	// entries and the conversation state once the run finished.
	Recording struct {
		// Entries are ordered oldest-first.
		Entries []Entry
		// FinalMessages is the conversation as of FinalizeStream, or nil if
		// the recording has not yet been finalized.
		FinalMessages []message.UIMessage
		// Finalized reports whether FinalMessages has been set.
		Finalized bool
	}

	// Page is a forward page of recorded entries.
	Page struct {
		// Entries are ordered oldest-first.
		Entries []Entry
		// NextCursor is the cursor to use to fetch the next page. It is
		// empty when there are no further entries.
		NextCursor string
	}

	// Store is an append-only store of recordings, keyed by an
	// application-chosen recording ID (typically a run or session ID).
	//
	// Implementations must provide stable ordering within a recording.
	// Cursor values are store-owned and opaque to callers.
	Store interface {
		// Append records e under recordingID, assigning it the next
		// sequence number for that recording.
		Append(ctx context.Context, recordingID string, e Entry) error
		// Finalize records the conversation state at the end of a run.
		// Calling it more than once overwrites the prior FinalMessages.
		Finalize(ctx context.Context, recordingID string, messages []message.UIMessage) error
		// List returns the next forward page of entries for recordingID.
		// Cursor is an opaque value returned by a previous call to List (or
		// empty to start from the beginning). Limit must be greater than
		// zero.
		List(ctx context.Context, recordingID, cursor string, limit int) (Page, error)
		// Get returns the full recording for recordingID.
		Get(ctx context.Context, recordingID string) (Recording, error)
	}
)

// ErrNotFound indicates no recording exists for the given ID.
var ErrNotFound = errors.New("recording: not found")
