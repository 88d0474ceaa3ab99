package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

type collector struct {
	mu    sync.Mutex
	texts []string
}

func (c *collector) handle(s Snapshot) error {
	c.mu.Lock()
	c.texts = append(c.texts, s.Text)
	c.mu.Unlock()
	return nil
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *collector) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) == 0 {
		return ""
	}
	return c.texts[len(c.texts)-1]
}

func startWatcher(t *testing.T, content string) (string, *FileWatcher, *collector) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.org")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fw, err := NewFileWatcher(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Stop() })

	c := &collector{}
	fw.AddHandler(c.handle)

	snap, err := fw.Read()
	require.NoError(t, err)
	require.Equal(t, content, snap.Text)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, fw.Start(ctx))
	return path, fw, c
}

// replace saves the way most editors do: write a sibling, rename over.
func replace(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestNewFileWatcherValidation(t *testing.T) {
	_, err := NewFileWatcher(filepath.Join(t.TempDir(), "missing.org"), nil)
	assert.Error(t, err)

	_, err = NewFileWatcher(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestWriteDeliversSnapshot(t *testing.T) {
	path, fw, c := startWatcher(t, "* One")
	assert.Equal(t, path, fw.Path())

	require.NoError(t, os.WriteFile(path, []byte("* One\n* Two"), 0o644))

	require.Eventually(t, func() bool { return c.last() == "* One\n* Two" }, 5*time.Second, 10*time.Millisecond)
}

func TestAtomicReplaceIsFollowed(t *testing.T) {
	path, _, c := startWatcher(t, "v1")

	replace(t, path, "v2")
	require.Eventually(t, func() bool { return c.last() == "v2" }, 5*time.Second, 10*time.Millisecond)

	replace(t, path, "v3")
	require.Eventually(t, func() bool { return c.last() == "v3" }, 5*time.Second, 10*time.Millisecond)
}

func TestUnchangedContentIsSkipped(t *testing.T) {
	path, _, c := startWatcher(t, "same")

	replace(t, path, "same")
	replace(t, path, "changed")
	require.Eventually(t, func() bool { return c.last() == "changed" }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"changed"}, c.all())
}

func TestSiblingFilesAreIgnored(t *testing.T) {
	path, _, c := startWatcher(t, "mine")

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".page.org.swp"), []byte("x"), 0o644))
	replace(t, path, "mine, edited")

	require.Eventually(t, func() bool { return c.last() == "mine, edited" }, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, c.all(), "x")
}

func TestStopIsIdempotent(t *testing.T) {
	_, fw, _ := startWatcher(t, "x")
	assert.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}
