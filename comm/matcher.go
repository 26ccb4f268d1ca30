package comm

import (
	"fmt"
	"sort"
	"sync"
)

// QueueLevel describes how full a queue of a communicator is.
type QueueLevel struct {
	Name     string `json:"buffer"`
	Size     int    `json:"level"`
	Capacity int    `json:"cap"`
}

// A matcher pairs inbound messages with posted receives. Both sides are kept
// in per-channel FIFO order, so that messages on one (source, tag) channel are
// consumed in the order they arrived.
type matcher struct {
	lock sync.Mutex

	name       string
	capacity   int
	unexpected map[channel]Buffer
	posted     map[channel][]*Request
}

func newMatcher(name string, capacity int) *matcher {
	return &matcher{
		name:       name,
		capacity:   capacity,
		unexpected: make(map[channel]Buffer),
		posted:     make(map[channel][]*Request),
	}
}

// deliver hands the oldest receive posted on the message's channel back to
// the caller to complete. If no receive is posted, the message is queued.
func (m *matcher) deliver(msg *Msg) (*Request, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	ch := msg.channel()

	waiting := m.posted[ch]
	if len(waiting) > 0 {
		req := waiting[0]
		waiting[0] = nil
		m.posted[ch] = waiting[1:]

		if len(m.posted[ch]) == 0 {
			delete(m.posted, ch)
		}

		return req, nil
	}

	buf, ok := m.unexpected[ch]
	if !ok {
		buf = NewBuffer(
			fmt.Sprintf("%s.Unexpected[src=%d,tag=%d]", m.name, ch.src, ch.tag),
			m.capacity)
		m.unexpected[ch] = buf
	}

	if !buf.CanPush() {
		return nil, fmt.Errorf("%w: %s is full", ErrTransport, buf.Name())
	}

	buf.Push(msg)

	return nil, nil
}

// post takes the oldest queued message of the request's channel. If there is
// none, the request is kept until a matching message arrives.
func (m *matcher) post(req *Request) *Msg {
	m.lock.Lock()
	defer m.lock.Unlock()

	ch := channel{src: req.peer, tag: req.tag}

	if buf, ok := m.unexpected[ch]; ok {
		if item := buf.Pop(); item != nil {
			return item.(*Msg)
		}
	}

	m.posted[ch] = append(m.posted[ch], req)

	return nil
}

// drain removes all the posted receives.
func (m *matcher) drain() []*Request {
	m.lock.Lock()
	defer m.lock.Unlock()

	var reqs []*Request
	for _, waiting := range m.posted {
		reqs = append(reqs, waiting...)
	}

	m.posted = make(map[channel][]*Request)

	return reqs
}

func (m *matcher) numUnexpected() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	n := 0
	for _, buf := range m.unexpected {
		n += buf.Size()
	}

	return n
}

func (m *matcher) levels() []QueueLevel {
	m.lock.Lock()
	defer m.lock.Unlock()

	levels := make([]QueueLevel, 0, len(m.unexpected))
	for _, buf := range m.unexpected {
		levels = append(levels, QueueLevel{
			Name:     buf.Name(),
			Size:     buf.Size(),
			Capacity: buf.Capacity(),
		})
	}

	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Name < levels[j].Name
	})

	return levels
}
