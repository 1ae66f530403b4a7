package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packetworld.ai/internal/sim/mail"
)

func TestBus_DeliversToMatchingSubscribers(t *testing.T) {
	b := NewBus()
	all, cancelAll := b.Subscribe(4)
	defer cancelAll()
	mails, cancelMails := b.Subscribe(4, MailSent)
	defer cancelMails()

	b.Publish(Event{Type: WorldProcessed, Tick: 1})
	b.Publish(Event{Type: MailSent, Tick: 1, Mail: &mail.Mail{From: "a", To: "b"}})

	require.Len(t, all, 2)
	require.Len(t, mails, 1)
	ev := <-mails
	assert.Equal(t, MailSent, ev.Type)
	assert.Equal(t, "b", ev.Mail.To)
}

func TestBus_DropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Type: WorldProcessed, Tick: 1})
	b.Publish(Event{Type: WorldProcessed, Tick: 2})

	st := b.Stats()
	assert.Equal(t, uint64(2), st.Published)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, uint64(1), (<-ch).Tick)
}

func TestBus_CancelAndClose(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
	assert.Equal(t, 0, b.SubscriberCount())

	ch2, _ := b.Subscribe(1)
	b.Close()
	_, ok = <-ch2
	assert.False(t, ok)

	b.Publish(Event{Type: GameOver})
	assert.Equal(t, uint64(0), b.Stats().Published)

	ch3, _ := b.Subscribe(1)
	_, ok = <-ch3
	assert.False(t, ok, "subscribe after close returns a closed channel")
}
