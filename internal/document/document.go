// Package document is the editing core's view of the text being edited.
//
// The editing widget owns the authoritative text. The core only reads
// snapshots of it (Text), asks where the caret is (Caret), and performs
// programmatic insertions (InsertAt). Positions are rune offsets from the
// start of the text.
package document

import (
	"sync"
	"unicode/utf8"
)

// Document is implemented by every editing host.
type Document interface {
	// Text returns a snapshot of the current content.
	Text() string
	// Caret returns the current insertion point.
	Caret() int
	// InsertAt inserts s at pos, clamped to [0, len(Text())].
	InsertAt(pos int, s string)
}

// Clamp bounds pos to a valid rune offset in text.
func Clamp(text string, pos int) int {
	if pos < 0 {
		return 0
	}
	if n := utf8.RuneCountInString(text); pos > n {
		return n
	}
	return pos
}

// Insert returns text with s spliced in at the rune offset pos.
func Insert(text string, pos int, s string) string {
	pos = Clamp(text, pos)
	i := byteOffset(text, pos)
	return text[:i] + s + text[i:]
}

func byteOffset(text string, runes int) int {
	if runes == 0 {
		return 0
	}
	n := 0
	for i := range text {
		if n == runes {
			return i
		}
		n++
	}
	return len(text)
}

// Buffer is an in-memory Document for headless hosts and tests. It is safe
// for concurrent use and notifies subscribers after every mutation.
type Buffer struct {
	mu       sync.RWMutex
	text     string
	caret    int
	notifier Notifier
}

// NewBuffer creates a buffer holding text with the caret at its end.
func NewBuffer(text string) *Buffer {
	return &Buffer{text: text, caret: utf8.RuneCountInString(text)}
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

func (b *Buffer) Caret() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caret
}

// SetCaret moves the caret, clamping it into the text.
func (b *Buffer) SetCaret(pos int) {
	b.mu.Lock()
	b.caret = Clamp(b.text, pos)
	b.mu.Unlock()
}

// SetText replaces the content, as a keystroke or an external editor would.
func (b *Buffer) SetText(text string) {
	b.mu.Lock()
	b.text = text
	b.caret = Clamp(text, b.caret)
	b.mu.Unlock()

	b.notifier.Notify(text)
}

// InsertAt inserts s at pos. A caret at or after pos moves with the
// inserted text.
func (b *Buffer) InsertAt(pos int, s string) {
	b.mu.Lock()
	pos = Clamp(b.text, pos)
	b.text = Insert(b.text, pos, s)
	if b.caret >= pos {
		b.caret += utf8.RuneCountInString(s)
	}
	text := b.text
	b.mu.Unlock()

	b.notifier.Notify(text)
}

// OnChange subscribes fn to content changes and returns the unsubscribe
// function.
func (b *Buffer) OnChange(fn Listener) func() {
	return b.notifier.Subscribe(fn)
}
