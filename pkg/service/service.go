// Package service wires the engine together: it owns the sender, receiver
// and processor workers, the queues between them, and the start/stop
// lifecycle exposed to the embedding application.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vennec/tgcourier/pkg/bus"
	"github.com/vennec/tgcourier/pkg/dispatch"
	"github.com/vennec/tgcourier/pkg/history"
	"github.com/vennec/tgcourier/pkg/logger"
	"github.com/vennec/tgcourier/pkg/telegram"
)

const component = "service"

// Transport is the outbound/inbound HTTP surface the workers drive. The
// production implementation is *telegram.Client.
type Transport interface {
	SendMessage(ctx context.Context, req telegram.SendRequest) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Options configures a Service. Transport is required; everything else has
// a working default.
type Options struct {
	Transport  Transport
	Recorder   history.Recorder
	Dispatcher *dispatch.Dispatcher

	// ChatID is the default conversation for messages enqueued without one.
	ChatID string

	PollTimeout    time.Duration // long-poll bound, default 30s
	PollRetryDelay time.Duration // pause after a failed poll, default 3s
	Bus            *bus.MessageBus
}

type Service struct {
	transport  Transport
	recorder   history.Recorder
	dispatcher *dispatch.Dispatcher
	bus        *bus.MessageBus
	chatID     string

	pollTimeout    time.Duration
	pollRetryDelay time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool

	offset atomic.Int64 // written only by the receiver worker
}

func New(opts Options) (*Service, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("service: transport is required")
	}
	if opts.Recorder == nil {
		opts.Recorder = history.NewMemoryRecorder()
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.PollRetryDelay <= 0 {
		opts.PollRetryDelay = 3 * time.Second
	}
	if opts.Bus == nil {
		opts.Bus = bus.NewMessageBus()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		transport:      opts.Transport,
		recorder:       opts.Recorder,
		dispatcher:     opts.Dispatcher,
		bus:            opts.Bus,
		chatID:         opts.ChatID,
		pollTimeout:    opts.PollTimeout,
		pollRetryDelay: opts.PollRetryDelay,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Start launches the workers. Calling Start twice is an error.
func (s *Service) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("service: already started")
	}

	if s.dispatcher != nil {
		restored, err := s.dispatcher.RestorePending()
		if err != nil {
			logger.WarnCF(component, "Could not restore pending asks", map[string]interface{}{
				"error": err.Error(),
			})
		} else if restored > 0 {
			logger.InfoCF(component, "Restored pending asks", map[string]interface{}{
				"count": restored,
			})
		}
	}

	s.wg.Add(2)
	go s.senderLoop()
	go s.receiverLoop()
	if s.dispatcher != nil {
		s.wg.Add(1)
		go s.processorLoop()
	}

	logger.InfoCF(component, "Service started", map[string]interface{}{
		"poll_timeout": s.pollTimeout.String(),
		"chat_id":      s.chatID,
	})
	return nil
}

// Stop signals the workers, waits for them to finish their in-flight work,
// delivers whatever is still queued and closes the queues. Safe to call
// more than once.
func (s *Service) Stop() {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return
	}
	logger.InfoC(component, "Stopping service")
	s.cancel()
	s.wg.Wait()
	s.Flush()
	s.bus.Close()
	logger.InfoC(component, "Service stopped")
}

// Send enqueues one or more outbound messages in order. Messages without a
// chat get the service default; messages without content are rejected with
// a warning rather than silently queued and dropped later.
func (s *Service) Send(messages ...bus.OutboundMessage) {
	for _, msg := range messages {
		if !msg.HasContent() {
			logger.WarnCF(component, "Rejected empty outbound message", map[string]interface{}{
				"chat_id": msg.ChatID,
			})
			continue
		}
		if msg.ChatID == "" {
			msg.ChatID = s.chatID
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if !s.bus.PublishOutbound(s.ctx, msg) {
			logger.WarnCF(component, "Outgoing queue rejected message", map[string]interface{}{
				"id":      msg.ID,
				"chat_id": msg.ChatID,
			})
		}
	}
}

// SendText enqueues a plain text message for the default chat.
func (s *Service) SendText(text string) {
	s.Send(bus.OutboundMessage{Text: text})
}

// Flush synchronously delivers everything currently in the outgoing queue.
// A no-op on an empty queue.
func (s *Service) Flush() {
	for {
		msg, ok := s.bus.TryConsumeOutbound()
		if !ok {
			return
		}
		s.deliver(msg)
	}
}

// Offset returns the next poll offset (one past the highest update seen).
func (s *Service) Offset() int64 {
	return s.offset.Load()
}

// OutboundTap registers an observer of delivered-to-queue outbound traffic.
// Must be called before Start.
func (s *Service) OutboundTap(name string) <-chan interface{} {
	return s.bus.SubscribeOutboundTap(name)
}

// ProbeUpdates issues one short poll at the current offset without
// consuming anything, as a connectivity check.
func (s *Service) ProbeUpdates(ctx context.Context) ([]telegram.Update, error) {
	return s.transport.GetUpdates(ctx, s.offset.Load(), 5*time.Second)
}
