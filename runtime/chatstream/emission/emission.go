// Package emission implements chunk emission strategies: policies that
// decide when accumulated text is flushed to subscribers versus held back
// for more context. The StreamProcessor feeds one strategy instance per
// in-flight message and only surfaces text (part mutation, onTextUpdate)
// when the strategy releases it.
package emission

import (
	"strings"
	"time"
)

// Strategy buffers incoming text fragments and decides when to release
// them. Feed is called once per reconciled text delta; it returns the text
// to emit now (possibly empty) and whether anything was emitted. Flush
// forces out whatever remains buffered; the processor calls it at segment
// boundaries and stream end regardless of strategy.
type Strategy interface {
	Feed(fragment string) (emit string, ok bool)
	Flush() (emit string, ok bool)
}

// Immediate emits every fragment as soon as it is fed, with no buffering.
// It is the default: useful for providers that already chunk at reasonable
// boundaries.
type Immediate struct{}

// NewImmediate returns an Immediate strategy.
func NewImmediate() *Immediate { return &Immediate{} }

// Feed implements Strategy.
func (*Immediate) Feed(fragment string) (string, bool) {
	if fragment == "" {
		return "", false
	}
	return fragment, true
}

// Flush implements Strategy.
func (*Immediate) Flush() (string, bool) { return "", false }

// defaultSentenceMaxChars caps how much text SentenceBoundary buffers while
// waiting for a sentence to end. Long unpunctuated runs (code, URLs,
// tables) are released once the buffer crosses it.
const defaultSentenceMaxChars = 120

// SentenceBoundary buffers fragments until the accumulated text contains a
// complete sentence: a '.', '!' or '?' followed by whitespace, or a
// newline. A bare terminator is not enough ("3.14" never splits), so the
// strategy waits for the character after it before releasing. Everything
// up to and including the last boundary's trailing whitespace is emitted;
// the remainder stays buffered. As a fallback, the whole buffer is
// released once it crosses the max-character threshold.
type SentenceBoundary struct {
	maxChars int
	buf      strings.Builder
}

// NewSentenceBoundary returns a SentenceBoundary strategy with the default
// max-character fallback.
func NewSentenceBoundary() *SentenceBoundary {
	return &SentenceBoundary{maxChars: defaultSentenceMaxChars}
}

// NewSentenceBoundaryMax returns a SentenceBoundary strategy releasing the
// buffer unconditionally once it holds at least maxChars characters.
func NewSentenceBoundaryMax(maxChars int) *SentenceBoundary {
	if maxChars <= 0 {
		maxChars = defaultSentenceMaxChars
	}
	return &SentenceBoundary{maxChars: maxChars}
}

// Feed implements Strategy.
func (s *SentenceBoundary) Feed(fragment string) (string, bool) {
	s.buf.WriteString(fragment)
	buffered := s.buf.String()
	if cut := lastSentenceEnd(buffered); cut > 0 {
		emit := buffered[:cut]
		rest := buffered[cut:]
		s.buf.Reset()
		s.buf.WriteString(rest)
		return emit, true
	}
	if len(buffered) >= s.maxChars {
		s.buf.Reset()
		return buffered, true
	}
	return "", false
}

// Flush implements Strategy, releasing any text not yet terminated by a
// sentence boundary.
func (s *SentenceBoundary) Flush() (string, bool) {
	if s.buf.Len() == 0 {
		return "", false
	}
	emit := s.buf.String()
	s.buf.Reset()
	return emit, true
}

// lastSentenceEnd returns the index just past the last sentence boundary
// in s, or 0 when s contains none. A boundary is a newline, or a '.', '!'
// or '?' followed by at least one space or tab; the trailing whitespace
// run belongs to the emitted sentence.
func lastSentenceEnd(s string) int {
	cut := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			cut = i + 1
		case '.', '!', '?':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
				j++
			}
			if j > i+1 {
				cut = j
			}
		}
	}
	return cut
}

// Debounced buffers fragments and only reports them ready once Interval has
// elapsed since the first fragment in the current batch, per the clock
// supplied at construction. Callers drive time by calling Feed and checking
// ok; there is no internal timer, so this strategy is safe to drive from a
// single-goroutine read loop without extra synchronization.
type Debounced struct {
	interval time.Duration
	now      func() time.Time
	buf      strings.Builder
	batchAt  time.Time
	pending  bool
}

// NewDebounced returns a Debounced strategy that releases buffered text once
// interval has elapsed since the first fragment of the current batch. now
// defaults to time.Now when nil.
func NewDebounced(interval time.Duration, now func() time.Time) *Debounced {
	if now == nil {
		now = time.Now
	}
	return &Debounced{interval: interval, now: now}
}

// Feed implements Strategy. It does not emit on the call that starts a
// batch; a caller that wants periodic flushing independent of new fragments
// must call Flush once interval has elapsed, typically from a ticker.
func (d *Debounced) Feed(fragment string) (string, bool) {
	if fragment != "" {
		if !d.pending {
			d.pending = true
			d.batchAt = d.now()
		}
		d.buf.WriteString(fragment)
	}
	if !d.pending || d.now().Sub(d.batchAt) < d.interval {
		return "", false
	}
	return d.Flush()
}

// Flush implements Strategy, releasing the current batch unconditionally.
func (d *Debounced) Flush() (string, bool) {
	if !d.pending {
		return "", false
	}
	emit := d.buf.String()
	d.buf.Reset()
	d.pending = false
	return emit, emit != ""
}
