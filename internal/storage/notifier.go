package storage

import "sync"

// notifier fans committed changes out to subscribers. Sends never block:
// when a subscriber's buffer is full a change is dropped, which is safe for
// full-recompute consumers because the change already sitting in the buffer
// will make them re-read the store after this commit anyway.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Change
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Change)}
}

func (n *notifier) subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (n *notifier) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		for _, c := range changes {
			select {
			case ch <- c:
			default:
			}
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
