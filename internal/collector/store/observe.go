package store

import "sync"

// Topic names a stream of change signals.
type Topic string

// TopicParticipant signals changes of the participant record. Record kinds
// (models.KindThing, models.KindVideo) are topics too.
const TopicParticipant Topic = "participant"

type notifier struct {
	mu   sync.Mutex
	next int
	subs map[Topic]map[int]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[Topic]map[int]chan struct{})}
}

func (n *notifier) subscribe(topic Topic) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan struct{}, 1)
	id := n.next
	n.next++
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[int]chan struct{})
	}
	n.subs[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[topic], id)
			close(ch)
		})
	}
	return ch, cancel
}

func (n *notifier) notify(topics ...Topic) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, topic := range topics {
		for _, ch := range n.subs[topic] {
			select {
			case ch <- struct{}{}:
			default:
				// a signal is already pending
			}
		}
	}
}
