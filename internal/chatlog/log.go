package chatlog

import "sync"

// Log is the live in-memory message store for one chat session. All
// mutations go through Upsert and RemoveAll; subscribers are notified
// after each mutation. It is safe for concurrent use — the submission
// controller writes while the websocket feed reads.
type Log struct {
	mu       sync.Mutex
	messages []Message
	touched  map[string]bool

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(Message)
}

func NewLog() *Log {
	return &Log{
		touched: make(map[string]bool),
		subs:    make(map[int]func(Message)),
	}
}

// Upsert inserts a message or merges it into the existing entry with the
// same ID. The existing entry keeps its role and position; text and
// citations are taken from the incoming message, and attachments are taken
// when the incoming message carries any. Repeated upserts with the same ID
// are the normal streaming path, not an error.
func (l *Log) Upsert(msg Message) {
	l.mu.Lock()
	l.touched[msg.ID] = true
	updated := msg
	found := false
	for i := range l.messages {
		if l.messages[i].ID == msg.ID {
			l.messages[i].Text = msg.Text
			l.messages[i].Citations = msg.Citations
			if msg.Attachments != nil {
				l.messages[i].Attachments = msg.Attachments
			}
			updated = l.messages[i]
			found = true
			break
		}
	}
	if !found {
		l.messages = append(l.messages, msg)
	}
	l.mu.Unlock()

	l.notify(updated)
}

// RemoveAll clears the log, including the touched-ID record.
func (l *Log) RemoveAll() {
	l.mu.Lock()
	l.messages = nil
	l.touched = make(map[string]bool)
	l.mu.Unlock()

	l.notify(Message{})
}

// Messages returns a snapshot copy of the live log.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of live messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Merge combines a persisted history with the live log. Persisted messages
// come first in their stored order; for IDs the live store has touched, the
// live copy's text and citations win while the persisted copy keeps its
// role. IDs present only in the live log are appended in live order.
func (l *Log) Merge(persisted []Message) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	live := make(map[string]Message, len(l.messages))
	for _, m := range l.messages {
		live[m.ID] = m
	}

	out := make([]Message, 0, len(persisted)+len(l.messages))
	seen := make(map[string]bool, len(persisted))
	for _, p := range persisted {
		seen[p.ID] = true
		if m, ok := live[p.ID]; ok && l.touched[p.ID] {
			p.Text = m.Text
			p.Citations = m.Citations
			if m.Attachments != nil {
				p.Attachments = m.Attachments
			}
		}
		out = append(out, p)
	}
	for _, m := range l.messages {
		if !seen[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// Subscribe registers fn to be called after every mutation with the
// upserted message (a zero Message for RemoveAll). It returns an
// unsubscribe function.
func (l *Log) Subscribe(fn func(Message)) func() {
	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

func (l *Log) notify(msg Message) {
	l.subMu.Lock()
	fns := make([]func(Message), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}
