package attach

import (
	"context"
	"sync"
)

// QueuePicker hands out a fixed list of files, one per Pick, and reports
// ErrCancelled once the list is exhausted. The headless commit command
// uses it for its --attach flags.
type QueuePicker struct {
	mu    sync.Mutex
	files []File
}

func NewQueuePicker(files ...File) *QueuePicker {
	return &QueuePicker{files: files}
}

func (q *QueuePicker) Pick(ctx context.Context) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.files) == 0 {
		return File{}, ErrCancelled
	}
	f := q.files[0]
	q.files = q.files[1:]
	return f, nil
}

// Remaining reports how many files have not been picked yet.
func (q *QueuePicker) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.files)
}
