package mail

import (
	"fmt"
	"sync"
)

// Mail is a message between two named active items. Addressing is by name; the
// postal consumer resolves names to ids at delivery time.
type Mail struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func (m Mail) String() string {
	return fmt.Sprintf("[mail from=%s to=%s body=%q]", m.From, m.To, m.Body)
}

// Inbox is the private mailbox of one actor. The postal consumer writes, the
// owning actor reads during its own phases.
type Inbox struct {
	mu   sync.Mutex
	msgs []Mail
}

func (b *Inbox) Put(m Mail) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

// Drain returns all queued mail and empties the inbox.
func (b *Inbox) Drain() []Mail {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.msgs
	b.msgs = nil
	return out
}

func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}
