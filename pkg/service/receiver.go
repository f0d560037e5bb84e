package service

import (
	"context"
	"strconv"
	"time"

	"github.com/vennec/tgcourier/pkg/bus"
	"github.com/vennec/tgcourier/pkg/history"
	"github.com/vennec/tgcourier/pkg/logger"
	"github.com/vennec/tgcourier/pkg/telegram"
)

// receiverLoop repeatedly long-polls the transport starting at the current
// offset. The offset only advances after an update has been recorded and
// its event pushed, so a failed poll repeats without losing or duplicating
// anything. Stop is observed between polls; an in-flight poll runs to its
// own timeout.
func (s *Service) receiverLoop() {
	defer s.wg.Done()
	logger.InfoC(component, "Receiver worker started")

	for {
		if s.ctx.Err() != nil {
			logger.InfoC(component, "Receiver worker stopped")
			return
		}

		updates, err := s.transport.GetUpdates(context.Background(), s.offset.Load(), s.pollTimeout)
		if err != nil {
			if s.ctx.Err() != nil {
				logger.InfoC(component, "Receiver worker stopped")
				return
			}
			logger.WarnCF(component, "Poll failed, backing off", map[string]interface{}{
				"offset": s.offset.Load(),
				"error":  err.Error(),
			})
			select {
			case <-s.ctx.Done():
			case <-time.After(s.pollRetryDelay):
			}
			continue
		}

		for _, update := range updates {
			s.ingest(update)
		}
	}
}

// ingest normalizes one raw update, records it, advances the offset and
// pushes the event onto the incoming queue. Unrecognized shapes are dropped
// with a recorded warning; their offset still advances so they are not
// re-polled forever.
func (s *Service) ingest(update telegram.Update) {
	ev, ok := normalizeUpdate(update)
	if !ok {
		logger.WarnCF(component, "Dropped unrecognized update", map[string]interface{}{
			"update_id": update.UpdateID,
		})
		if err := s.recorder.LogInteraction(history.DirectionSystem, "", "dropped",
			map[string]interface{}{"update_id": update.UpdateID}, update.UpdateID); err != nil {
			logger.WarnCF(component, "Could not record dropped update", map[string]interface{}{
				"update_id": update.UpdateID,
				"error":     err.Error(),
			})
		}
		s.offset.Store(update.UpdateID + 1)
		return
	}

	if err := s.recorder.LogInteraction(history.DirectionIncoming, ev.ChatID, string(ev.Kind),
		map[string]interface{}{"payload": ev.Payload}, ev.RawOffset); err != nil {
		logger.WarnCF(component, "Could not record inbound event", map[string]interface{}{
			"update_id": ev.RawOffset,
			"error":     err.Error(),
		})
	}

	// The cursor moves before the publish, so an event rejected here (only
	// possible during shutdown) is gone for this run. Safe while the offset
	// is in-memory only; persisting the offset would require storing it
	// after a successful publish instead.
	s.offset.Store(ev.RawOffset + 1)

	if !s.bus.PublishInbound(s.ctx, ev) {
		logger.WarnCF(component, "Incoming queue rejected event", map[string]interface{}{
			"update_id": ev.RawOffset,
			"chat_id":   ev.ChatID,
		})
	}
}

// normalizeUpdate classifies a raw update: a message with text becomes a
// text event, a callback query becomes a callback event, everything else is
// unrecognized.
func normalizeUpdate(u telegram.Update) (bus.Event, bool) {
	switch {
	case u.Message != nil && u.Message.Chat != nil && u.Message.Text != "":
		return bus.Event{
			ChatID:    strconv.FormatInt(u.Message.Chat.ID, 10),
			Kind:      bus.EventText,
			Payload:   u.Message.Text,
			RawOffset: u.UpdateID,
		}, true
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return bus.Event{
			ChatID:    strconv.FormatInt(u.CallbackQuery.Message.Chat.ID, 10),
			Kind:      bus.EventCallback,
			Payload:   u.CallbackQuery.Data,
			RawOffset: u.UpdateID,
		}, true
	default:
		return bus.Event{}, false
	}
}
