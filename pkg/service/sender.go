package service

import (
	"context"

	"github.com/vennec/tgcourier/pkg/bus"
	"github.com/vennec/tgcourier/pkg/history"
	"github.com/vennec/tgcourier/pkg/logger"
	"github.com/vennec/tgcourier/pkg/telegram"
)

// senderLoop drains the outgoing queue in FIFO order. A message that
// exhausts its retries is reported and the loop moves on; it never blocks
// the messages behind it for longer than its own retry budget.
func (s *Service) senderLoop() {
	defer s.wg.Done()
	logger.InfoC(component, "Sender worker started")

	for {
		msg, ok := s.bus.ConsumeOutbound(s.ctx)
		if !ok {
			logger.InfoC(component, "Sender worker stopped")
			return
		}
		s.deliver(msg)
	}
}

// deliver performs one send and records the final outcome. It deliberately
// uses a background context so that a stop request never cuts off a message
// already taken from the queue; the transport's own retry budget bounds the
// call.
func (s *Service) deliver(msg bus.OutboundMessage) {
	err := s.transport.SendMessage(context.Background(), telegram.SendRequest{
		ChatID:      msg.ChatID,
		Text:        msg.Text,
		ReplyMarkup: msg.ReplyMarkup,
	})

	content := map[string]interface{}{
		"id":           msg.ID,
		"text":         msg.Text,
		"reply_markup": msg.ReplyMarkup,
	}
	if err != nil {
		content["status"] = "failed"
		content["error"] = err.Error()
		logger.ErrorCF(component, "Send failed", map[string]interface{}{
			"id":      msg.ID,
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	} else {
		content["status"] = "sent"
	}

	if logErr := s.recorder.LogInteraction(history.DirectionOutgoing, msg.ChatID, "message", content, 0); logErr != nil {
		logger.WarnCF(component, "Could not record outbound message", map[string]interface{}{
			"id":    msg.ID,
			"error": logErr.Error(),
		})
	}
}
