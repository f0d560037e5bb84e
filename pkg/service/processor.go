package service

import (
	"github.com/vennec/tgcourier/pkg/bus"
	"github.com/vennec/tgcourier/pkg/dispatch"
	"github.com/vennec/tgcourier/pkg/logger"
)

// processorLoop consumes the incoming queue and feeds the dispatcher. Each
// event's replies are enqueued on the outgoing queue in order. Dispatch
// outcomes are never fatal here; unknown commands and action failures are
// logged and the loop continues.
func (s *Service) processorLoop() {
	defer s.wg.Done()
	logger.InfoC(component, "Processor worker started")

	for {
		ev, ok := s.bus.ConsumeInbound(s.ctx)
		if !ok {
			logger.InfoC(component, "Processor worker stopped")
			return
		}

		result := s.dispatcher.Dispatch(s.ctx, ev)
		switch result.Outcome {
		case dispatch.OutcomeUnknown:
			logger.DebugCF(component, "Unresolved payload", map[string]interface{}{
				"chat_id": ev.ChatID,
				"kind":    string(ev.Kind),
			})
		case dispatch.OutcomeActionError:
			logger.WarnCF(component, "Command action failed", map[string]interface{}{
				"chat_id": ev.ChatID,
				"command": result.Command,
				"error":   result.Err.Error(),
			})
		}

		for _, reply := range result.Replies {
			msg := bus.OutboundMessage{
				ChatID:      ev.ChatID,
				Text:        reply.Text,
				ReplyMarkup: reply.ReplyMarkup,
			}
			s.Send(msg)
		}
	}
}
