package oscbridge

import (
	"context"

	"github.com/hypebeast/go-osc/osc"

	"github.com/srg/meowctl/internal/central"
)

// HasFeedback reports whether a feedback address is configured.
func (b *Bridge) HasFeedback() bool {
	return b.feedback != nil
}

// Forward sends every change as OSC feedback until ctx is done or changes
// is closed. It returns immediately when no feedback address is configured.
func (b *Bridge) Forward(ctx context.Context, changes <-chan central.Change) {
	if b.feedback == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			msg := feedbackMessage(c)
			if msg == nil {
				continue
			}
			if err := b.feedback.Send(msg); err != nil {
				b.logger.WithError(err).WithField("osc", msg.Address).Debug("OSC feedback failed")
			}
		}
	}
}

// feedbackMessage maps a change to its OSC message, or nil when the change
// has no OSC representation.
func feedbackMessage(c central.Change) *osc.Message {
	switch c.Kind {
	case central.PowerChanged:
		return osc.NewMessage(AddrPower, c.Power.String())
	case central.PeripheralAdded, central.StateChanged:
		return osc.NewMessage(AddrState, c.Peripheral.ID, c.Peripheral.State.String())
	default:
		return nil
	}
}
