package reassembler

import (
	"sort"
	"strings"
	"time"
)

// entry holds the lines received so far for one file
type entry struct {
	lines      []string
	sequenceID string
	started    time.Time
	updated    time.Time
}

// Buffer accumulates lines per file identity until the terminal line arrives.
// It is owned by a single consumer loop and is not safe for concurrent use.
type Buffer struct {
	entries map[string]*entry
	now     func() time.Time
}

// StaleEntry describes an open entry that has not grown for a while
type StaleEntry struct {
	FileIdentity string
	Lines        int
	SequenceID   string
	Started      time.Time
	IdleFor      time.Duration
}

// NewBuffer creates an empty buffer
func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[string]*entry), now: time.Now}
}

// Append adds line to the entry for fileIdentity, creating it on first use,
// and returns the number of lines now held. mixed is true when the entry was
// started by a different split run than sequenceID.
func (b *Buffer) Append(fileIdentity, line, sequenceID string) (count int, mixed bool) {
	now := b.now()
	e, ok := b.entries[fileIdentity]
	if !ok {
		e = &entry{sequenceID: sequenceID, started: now}
		b.entries[fileIdentity] = e
	}
	mixed = ok && sequenceID != "" && e.sequenceID != "" && e.sequenceID != sequenceID
	e.lines = append(e.lines, line)
	e.updated = now
	return len(e.lines), mixed
}

// Lines returns the lines held for fileIdentity in arrival order
func (b *Buffer) Lines(fileIdentity string) []string {
	if e, ok := b.entries[fileIdentity]; ok {
		return e.lines
	}
	return nil
}

// Join returns the held lines joined with "\n", without a trailing newline
func (b *Buffer) Join(fileIdentity string) []byte {
	return []byte(strings.Join(b.Lines(fileIdentity), "\n"))
}

// Has reports whether an entry exists for fileIdentity
func (b *Buffer) Has(fileIdentity string) bool {
	_, ok := b.entries[fileIdentity]
	return ok
}

// Delete removes the entry for fileIdentity
func (b *Buffer) Delete(fileIdentity string) {
	delete(b.entries, fileIdentity)
}

// Len returns the number of open entries
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Keys returns the open file identities in sorted order
func (b *Buffer) Keys() []string {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stale returns entries whose last append is at least idle ago, oldest first
func (b *Buffer) Stale(idle time.Duration) []StaleEntry {
	now := b.now()
	var stale []StaleEntry
	for id, e := range b.entries {
		if since := now.Sub(e.updated); since >= idle {
			stale = append(stale, StaleEntry{
				FileIdentity: id,
				Lines:        len(e.lines),
				SequenceID:   e.sequenceID,
				Started:      e.started,
				IdleFor:      since,
			})
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].IdleFor != stale[j].IdleFor {
			return stale[i].IdleFor > stale[j].IdleFor
		}
		return stale[i].FileIdentity < stale[j].FileIdentity
	})
	return stale
}
