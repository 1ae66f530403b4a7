package main

import (
	"errors"

	"packetworld.ai/internal/sim/handlers"
	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/world"
)

// tickSinks fans a tick record out to every sink; one failing sink does not
// starve the others.
type tickSinks []handlers.TickSink

func (s tickSinks) WriteTick(rec world.TickRecord) error {
	var errs []error
	for _, sink := range s {
		if err := sink.WriteTick(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type mailSinks []handlers.MailSink

func (s mailSinks) WriteMail(tick uint64, m mail.Mail) {
	for _, sink := range s {
		sink.WriteMail(tick, m)
	}
}
