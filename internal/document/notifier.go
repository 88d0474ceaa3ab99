package document

import "sync"

// Listener receives the full text after a change.
type Listener func(text string)

// Notifier fans change notifications out to subscribers. The zero value is
// ready to use.
type Notifier struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier) Subscribe(fn Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listeners == nil {
		n.listeners = make(map[int]Listener)
	}
	id := n.next
	n.next++
	n.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// Notify calls every listener with text. Listeners are called outside the
// lock so they may subscribe or unsubscribe.
func (n *Notifier) Notify(text string) {
	n.mu.RLock()
	listeners := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.RUnlock()

	for _, l := range listeners {
		l(text)
	}
}
