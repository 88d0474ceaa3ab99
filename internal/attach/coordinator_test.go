package attach

import (
	"context"
	"errors"
	"testing"

	"github.com/conneroisu/sowing/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUploader struct {
	locator string
	err     error
	calls   int
	// during runs inside Upload, standing in for the user typing meanwhile.
	during func()
}

func (s *stubUploader) Upload(ctx context.Context, file File) (string, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	return s.locator, s.err
}

type alertRecorder struct {
	messages []string
}

func (a *alertRecorder) Alert(message string) {
	a.messages = append(a.messages, message)
}

func TestStartUploadInsertsTokenAtCapturedCaret(t *testing.T) {
	doc := document.NewBuffer("Hello world")
	doc.SetCaret(6)

	uploader := &stubUploader{locator: "/files/abc.png"}
	// The caret moves while the upload is in flight.
	uploader.during = func() { doc.SetCaret(0) }

	alerts := &alertRecorder{}
	c := NewCoordinator(doc, NewQueuePicker(BytesFile("abc.png", []byte("png"))), uploader, alerts, nil)

	require.NoError(t, c.StartUpload(context.Background()))

	assert.Equal(t, "Hello [[/files/abc.png]]world", doc.Text())
	assert.Empty(t, alerts.messages)
	assert.False(t, c.Active())
}

func TestStartUploadCancelledPicker(t *testing.T) {
	doc := document.NewBuffer("unchanged text")
	uploader := &stubUploader{locator: "/files/x"}
	alerts := &alertRecorder{}
	c := NewCoordinator(doc, NewQueuePicker(), uploader, alerts, nil)

	require.NoError(t, c.StartUpload(context.Background()))

	assert.Equal(t, "unchanged text", doc.Text())
	assert.Zero(t, uploader.calls)
	assert.Empty(t, alerts.messages)
	assert.False(t, c.Active())
}

func TestStartUploadFailureAlertsAndKeepsDocument(t *testing.T) {
	doc := document.NewBuffer("keep me")
	uploader := &stubUploader{err: errors.New("503 service unavailable")}
	alerts := &alertRecorder{}
	c := NewCoordinator(doc, NewQueuePicker(BytesFile("a.txt", nil)), uploader, alerts, nil)

	err := c.StartUpload(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, "keep me", doc.Text())
	require.Len(t, alerts.messages, 1)
	assert.Contains(t, alerts.messages[0], "Upload failed")
	assert.False(t, c.Active())
}

func TestBeginRejectsSecondUpload(t *testing.T) {
	doc := document.NewBuffer("")
	c := NewCoordinator(doc, nil, &stubUploader{}, nil, nil)

	p, err := c.Begin()
	require.NoError(t, err)
	assert.True(t, c.Active())

	_, err = c.Begin()
	assert.ErrorIs(t, err, ErrUploadInFlight)

	p.Cancel()
	assert.False(t, c.Active())

	_, err = c.Begin()
	assert.NoError(t, err)
}

func TestPendingFinishesOnce(t *testing.T) {
	doc := document.NewBuffer("ab")
	doc.SetCaret(1)
	c := NewCoordinator(doc, nil, &stubUploader{}, nil, nil)

	p, err := c.Begin()
	require.NoError(t, err)
	assert.Equal(t, 1, p.Caret())

	require.NoError(t, p.Complete("/uploads/one"))
	assert.ErrorIs(t, p.Complete("/uploads/two"), ErrNotPending)
	p.Fail(errors.New("late"))

	assert.Equal(t, "a[[/uploads/one]]b", doc.Text())
}

func TestStartUploadWithoutPicker(t *testing.T) {
	c := NewCoordinator(document.NewBuffer(""), nil, &stubUploader{}, nil, nil)
	assert.Error(t, c.StartUpload(context.Background()))
	assert.False(t, c.Active())
}

func TestQueuePicker(t *testing.T) {
	q := NewQueuePicker(BytesFile("a", nil), BytesFile("b", nil))
	ctx := context.Background()

	f, err := q.Pick(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", f.Name)
	assert.Equal(t, 1, q.Remaining())

	_, _ = q.Pick(ctx)
	_, err = q.Pick(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
}
