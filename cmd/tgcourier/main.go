// Command tgcourier runs a small demonstration bot on top of the messaging
// engine: it declares a couple of commands, starts the service and shuts
// down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vennec/tgcourier/pkg/bus"
	"github.com/vennec/tgcourier/pkg/config"
	"github.com/vennec/tgcourier/pkg/dispatch"
	"github.com/vennec/tgcourier/pkg/history"
	"github.com/vennec/tgcourier/pkg/logger"
	"github.com/vennec/tgcourier/pkg/service"
	"github.com/vennec/tgcourier/pkg/telegram"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "tgcourier:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	var recorder history.Recorder
	if cfg.History.Path != "" {
		manager, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer manager.Close()
		recorder = manager
	} else {
		recorder = history.NewMemoryRecorder()
	}

	registry := dispatch.NewRegistry()
	if err := registerDemoCommands(registry); err != nil {
		return err
	}

	policy := dispatch.InterruptSwallow
	if cfg.Dispatch.InterruptPolicy == "replace" {
		policy = dispatch.InterruptReplace
	}
	dispatcher := dispatch.NewDispatcher(registry, recorder, policy)

	client := telegram.NewClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken,
		telegram.Endpoints{
			Text:    cfg.Telegram.TextEndpoint,
			Updates: cfg.Telegram.UpdatesEndpoint,
		},
		telegram.RetryPolicy{
			MaxRetries: cfg.Telegram.SendMaxRetries,
			BaseDelay:  cfg.Telegram.RetryBaseDelay,
			MaxDelay:   cfg.Telegram.RetryMaxDelay,
		},
	)

	svc, err := service.New(service.Options{
		Transport:      client,
		Recorder:       recorder,
		Dispatcher:     dispatcher,
		ChatID:         cfg.Telegram.ChatID,
		PollTimeout:    cfg.Telegram.PollTimeout,
		PollRetryDelay: cfg.Telegram.PollRetryDelay,
		Bus:            bus.NewMessageBusSize(cfg.Queues.InboundSize, cfg.Queues.OutboundSize),
	})
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	svc.Stop()
	return nil
}

func registerDemoCommands(registry *dispatch.Registry) error {
	commands := []dispatch.Command{
		{
			Name:        "/ping",
			Menu:        "/main",
			Description: "Liveness check",
			Action: func(ctx context.Context, call dispatch.Call) ([]dispatch.Reply, error) {
				return []dispatch.Reply{{Text: "pong"}}, nil
			},
		},
		{
			Name:        "/greet",
			Menu:        "/main",
			Description: "Personalized greeting",
			Slots: []dispatch.Slot{
				{Name: "name", Type: dispatch.ParamString},
				{Name: "age", Type: dispatch.ParamInt},
			},
			Prompts: []string{"What is your name?", "What is your age?"},
			Action: func(ctx context.Context, call dispatch.Call) ([]dispatch.Reply, error) {
				name := call.Args[0].(string)
				age := call.Args[1].(int64)
				return []dispatch.Reply{{Text: fmt.Sprintf("Hello %s, %d already!", name, age)}}, nil
			},
		},
	}
	for _, cmd := range commands {
		if err := registry.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}
