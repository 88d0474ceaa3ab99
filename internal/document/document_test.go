package document

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		pos      int
		insert   string
		expected string
	}{
		{"start", "world", 0, "hello ", "hello world"},
		{"middle", "ab", 1, "-", "a-b"},
		{"end", "ab", 2, "c", "abc"},
		{"past end clamps", "ab", 99, "c", "abc"},
		{"negative clamps", "ab", -3, "c", "cab"},
		{"runes not bytes", "héllo", 2, "[[x]]", "hé[[x]]llo"},
		{"empty document", "", 0, "[[/files/a.png]]", "[[/files/a.png]]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Insert(tt.text, tt.pos, tt.insert))
		})
	}
}

func TestBufferInsertMovesCaret(t *testing.T) {
	b := NewBuffer("abcdef")
	b.SetCaret(4)

	b.InsertAt(2, "XY")
	assert.Equal(t, "abXYcdef", b.Text())
	assert.Equal(t, 6, b.Caret())

	b.InsertAt(7, "!")
	assert.Equal(t, "abXYcde!f", b.Text())
	assert.Equal(t, 6, b.Caret())
}

func TestBufferSetTextClampsCaret(t *testing.T) {
	b := NewBuffer("a long line")
	require.Equal(t, 11, b.Caret())

	b.SetText("short")
	assert.Equal(t, 5, b.Caret())
}

func TestBufferNotifies(t *testing.T) {
	b := NewBuffer("")

	var got []string
	unsubscribe := b.OnChange(func(text string) { got = append(got, text) })

	b.SetText("a")
	b.InsertAt(1, "b")
	unsubscribe()
	unsubscribe()
	b.SetText("ignored")

	assert.Equal(t, []string{"a", "ab"}, got)
}

func TestNotifierConcurrentUse(t *testing.T) {
	var n Notifier
	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop := n.Subscribe(func(string) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			n.Notify("x")
			stop()
		}()
	}
	wg.Wait()

	assert.Positive(t, count)
}
