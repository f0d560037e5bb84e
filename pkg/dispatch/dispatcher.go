package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/vennec/tgcourier/pkg/bus"
	"github.com/vennec/tgcourier/pkg/history"
	"github.com/vennec/tgcourier/pkg/logger"
)

const component = "dispatch"

// InterruptPolicy decides what happens when a chat with a pending ask sends
// a new top-level command.
type InterruptPolicy int

const (
	// InterruptSwallow treats every text turn as the next answer until the
	// ask resolves. A "/command" answer is just an argument value.
	InterruptSwallow InterruptPolicy = iota
	// InterruptReplace cancels the pending ask when a registered top-level
	// command arrives, discarding collected progress.
	InterruptReplace
)

// Outcome classifies what a dispatch did. Local failures (parse errors,
// unknown commands) are outcomes, never worker-fatal errors.
type Outcome string

const (
	OutcomeInvoked     Outcome = "invoked"
	OutcomePrompted    Outcome = "prompted"
	OutcomeParseError  Outcome = "parse_error"
	OutcomeMenu        Outcome = "menu"
	OutcomeCanceled    Outcome = "canceled"
	OutcomeUnknown     Outcome = "unknown_command"
	OutcomeActionError Outcome = "action_error"
)

// Result is the outcome of dispatching one event. Replies are what the
// engine should enqueue; Err is only set for action failures and is never
// fatal to the processing loop.
type Result struct {
	Outcome Outcome
	Command string
	Replies []Reply
	Err     error
}

// callbackPattern matches the structured callback-token grammar:
// an optional action prefix, a command or menu identifier, and optional
// ';'-separated arguments, e.g. "ask:/set_sell_price:BTC-1".
var callbackPattern = regexp.MustCompile(`^(?:(ask|respond|cancel|confirm):)?(/\w+)(?::(.*))?$`)

// pendingAsk is the per-chat conversation state of an under-specified
// command. Collected values stay raw text until the final conversion.
type pendingAsk struct {
	command     *Command
	collected   []string
	promptIndex int
}

// Dispatcher owns the pending-ask set. It is safe for concurrent use; a
// single mutex guards the set since two chats may dispatch concurrently.
type Dispatcher struct {
	registry *Registry
	recorder history.Recorder
	policy   InterruptPolicy

	mu      sync.Mutex
	pending map[string]*pendingAsk
}

func NewDispatcher(registry *Registry, recorder history.Recorder, policy InterruptPolicy) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		recorder: recorder,
		policy:   policy,
		pending:  make(map[string]*pendingAsk),
	}
}

// RestorePending reloads still-active asks from the history journal so a
// restart resumes half-collected conversations. Prompts referring to
// commands that are no longer registered are dropped. Returns how many
// conversations were restored.
func (d *Dispatcher) RestorePending() (int, error) {
	if d.recorder == nil {
		return 0, nil
	}
	records, err := d.recorder.ActivePrompts()
	if err != nil {
		return 0, fmt.Errorf("load active prompts: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	restored := 0
	for chatID, record := range records {
		cmd, ok := d.registry.Lookup(record.Command)
		if !ok || len(record.Arguments) >= len(cmd.Slots) {
			logger.WarnCF(component, "Dropping unresumable prompt", map[string]interface{}{
				"chat_id": chatID,
				"command": record.Command,
			})
			continue
		}
		d.pending[chatID] = &pendingAsk{
			command:     cmd,
			collected:   append([]string(nil), record.Arguments...),
			promptIndex: len(record.Arguments),
		}
		restored++
	}
	return restored, nil
}

// PendingFor reports whether a chat has an unresolved ask.
func (d *Dispatcher) PendingFor(chatID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[chatID]
	return ok
}

// Dispatch resolves one event. It never returns a fatal error: every failure
// mode is an Outcome the caller can log and move past.
func (d *Dispatcher) Dispatch(ctx context.Context, ev bus.Event) Result {
	switch ev.Kind {
	case bus.EventText:
		return d.dispatchText(ctx, ev.ChatID, strings.TrimSpace(ev.Payload))
	case bus.EventCallback:
		return d.dispatchCallback(ctx, ev.ChatID, strings.TrimSpace(ev.Payload))
	default:
		return Result{Outcome: OutcomeUnknown}
	}
}

func (d *Dispatcher) dispatchText(ctx context.Context, chatID, text string) Result {
	d.mu.Lock()
	ask, hasAsk := d.pending[chatID]
	d.mu.Unlock()

	if hasAsk {
		if d.policy == InterruptReplace && strings.HasPrefix(text, "/") {
			word := commandWord(text)
			if _, ok := d.registry.Lookup(word); ok {
				d.dropPending(chatID)
				logger.InfoCF(component, "Pending ask replaced by new command", map[string]interface{}{
					"chat_id":     chatID,
					"interrupted": ask.command.Name,
					"command":     word,
				})
				return d.dispatchCommand(ctx, chatID, word, nil)
			}
		}
		return d.answerTurn(ctx, chatID, ask, text)
	}

	if strings.HasPrefix(text, "/") {
		// Everything after the command word is ignored on the text path;
		// inline arguments travel in callback tokens.
		return d.dispatchCommand(ctx, chatID, commandWord(text), nil)
	}
	return Result{Outcome: OutcomeUnknown}
}

func (d *Dispatcher) dispatchCallback(ctx context.Context, chatID, data string) Result {
	m := callbackPattern.FindStringSubmatch(data)
	if m == nil {
		return Result{Outcome: OutcomeUnknown}
	}
	action, name, rawArgs := m[1], m[2], m[3]
	var args []string
	if rawArgs != "" {
		args = strings.Split(rawArgs, ";")
	}

	switch action {
	case "cancel":
		return d.cancelAsk(chatID, name)
	case "ask", "respond":
		// ask starts (or restarts) the conversation with pre-filled slots;
		// respond carries the full collected set of an ongoing one. Both
		// converge on the same state transition.
		cmd, ok := d.registry.Lookup(name)
		if !ok {
			return Result{Outcome: OutcomeUnknown, Command: name}
		}
		return d.startAsk(ctx, chatID, cmd, args)
	case "confirm":
		cmd, ok := d.registry.Lookup(name)
		if !ok {
			return Result{Outcome: OutcomeUnknown, Command: name}
		}
		return d.invoke(ctx, chatID, cmd, args)
	default:
		if d.registry.IsMenu(name) {
			return d.menuKeyboard(name)
		}
		return d.dispatchCommand(ctx, chatID, name, args)
	}
}

// dispatchCommand handles a top-level invocation, with or without inline
// arguments.
func (d *Dispatcher) dispatchCommand(ctx context.Context, chatID, name string, args []string) Result {
	cmd, ok := d.registry.Lookup(name)
	if !ok {
		if name == "/help" {
			return d.topMenuKeyboard()
		}
		if d.registry.IsMenu(name) {
			return d.menuKeyboard(name)
		}
		logger.DebugCF(component, "Unknown command", map[string]interface{}{
			"chat_id": chatID,
			"command": name,
		})
		return Result{Outcome: OutcomeUnknown, Command: name}
	}

	if len(cmd.Slots) == 0 {
		return d.invoke(ctx, chatID, cmd, nil)
	}
	if len(args) >= len(cmd.Slots) {
		// Fully specified inline: bypass the ask flow entirely.
		return d.invoke(ctx, chatID, cmd, args[:len(cmd.Slots)])
	}
	return d.startAsk(ctx, chatID, cmd, args)
}

// startAsk opens (or advances) the conversation collecting cmd's arguments,
// seeded with already-supplied values. When the seed covers every slot the
// action fires immediately.
func (d *Dispatcher) startAsk(ctx context.Context, chatID string, cmd *Command, seed []string) Result {
	for i, raw := range seed {
		if i >= len(cmd.Slots) {
			break
		}
		if _, err := cmd.Slots[i].Type.Parse(raw); err != nil {
			return Result{
				Outcome: OutcomeParseError,
				Command: cmd.Name,
				Replies: []Reply{typeErrorReply(cmd, i, raw)},
			}
		}
	}
	if len(seed) > len(cmd.Slots) {
		seed = seed[:len(cmd.Slots)]
	}

	if len(seed) == len(cmd.Slots) {
		// A fully-seeded invocation supersedes whatever ask was open for the
		// chat, in memory and in the journal alike.
		d.dropPending(chatID)
		return d.invoke(ctx, chatID, cmd, seed)
	}

	ask := &pendingAsk{
		command:     cmd,
		collected:   append([]string(nil), seed...),
		promptIndex: len(seed),
	}
	d.mu.Lock()
	d.pending[chatID] = ask
	d.mu.Unlock()
	d.journalPrompt(chatID, "ask", ask)

	return Result{
		Outcome: OutcomePrompted,
		Command: cmd.Name,
		Replies: []Reply{{Text: promptText(cmd, ask.promptIndex)}},
	}
}

// answerTurn consumes one text message as the next argument of the pending
// ask. A parse failure leaves the conversation state untouched and re-asks
// the same question.
func (d *Dispatcher) answerTurn(ctx context.Context, chatID string, ask *pendingAsk, text string) Result {
	slot := ask.command.Slots[ask.promptIndex]
	if _, err := slot.Type.Parse(text); err != nil {
		logger.DebugCF(component, "Slot parse failure", map[string]interface{}{
			"chat_id": chatID,
			"command": ask.command.Name,
			"slot":    slot.Name,
		})
		return Result{
			Outcome: OutcomeParseError,
			Command: ask.command.Name,
			Replies: []Reply{typeErrorReply(ask.command, ask.promptIndex, text)},
		}
	}

	d.mu.Lock()
	ask.collected = append(ask.collected, text)
	ask.promptIndex = len(ask.collected)
	d.mu.Unlock()

	if ask.promptIndex == len(ask.command.Slots) {
		collected := append([]string(nil), ask.collected...)
		d.dropPending(chatID)
		return d.invoke(ctx, chatID, ask.command, collected)
	}

	d.journalPrompt(chatID, "respond", ask)
	return Result{
		Outcome: OutcomePrompted,
		Command: ask.command.Name,
		Replies: []Reply{{Text: promptText(ask.command, ask.promptIndex)}},
	}
}

// invoke converts the raw arguments and runs the bound action. Action
// failures (including panics) are isolated: the pending state for other
// chats is untouched and the worker loop keeps going.
func (d *Dispatcher) invoke(ctx context.Context, chatID string, cmd *Command, raw []string) Result {
	if len(raw) != len(cmd.Slots) {
		return Result{
			Outcome: OutcomeParseError,
			Command: cmd.Name,
			Replies: []Reply{{Text: fmt.Sprintf("%s expects %d arguments, got %d.", cmd.Name, len(cmd.Slots), len(raw))}},
		}
	}
	args := make([]interface{}, len(raw))
	for i, value := range raw {
		converted, err := cmd.Slots[i].Type.Parse(value)
		if err != nil {
			return Result{
				Outcome: OutcomeParseError,
				Command: cmd.Name,
				Replies: []Reply{typeErrorReply(cmd, i, value)},
			}
		}
		args[i] = converted
	}

	replies, err := d.callAction(ctx, cmd, Call{ChatID: chatID, Command: cmd.Name, Args: args})
	if err != nil {
		logger.ErrorCF(component, "Action failed", map[string]interface{}{
			"chat_id": chatID,
			"command": cmd.Name,
			"error":   err.Error(),
		})
		return Result{Outcome: OutcomeActionError, Command: cmd.Name, Err: err}
	}
	return Result{Outcome: OutcomeInvoked, Command: cmd.Name, Replies: replies}
}

func (d *Dispatcher) callAction(ctx context.Context, cmd *Command, call Call) (replies []Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", cmd.Name, r)
		}
	}()
	return cmd.Action(ctx, call)
}

func (d *Dispatcher) cancelAsk(chatID, name string) Result {
	d.mu.Lock()
	_, had := d.pending[chatID]
	d.mu.Unlock()
	if !had {
		return Result{Outcome: OutcomeUnknown, Command: name}
	}
	d.dropPending(chatID)
	return Result{
		Outcome: OutcomeCanceled,
		Command: name,
		Replies: []Reply{{Text: "Canceled."}},
	}
}

func (d *Dispatcher) menuKeyboard(menu string) Result {
	commands := d.registry.CommandsForMenu(menu)
	names := make([]string, 0, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.Name)
	}
	return Result{
		Outcome: OutcomeMenu,
		Command: menu,
		Replies: []Reply{keyboardReply("Here are the available commands:", names)},
	}
}

func (d *Dispatcher) topMenuKeyboard() Result {
	return Result{
		Outcome: OutcomeMenu,
		Command: "/help",
		Replies: []Reply{keyboardReply("Please choose a menu:", d.registry.Menus())},
	}
}

// dropPending removes the chat's ask and resolves its journal entry.
func (d *Dispatcher) dropPending(chatID string) {
	d.mu.Lock()
	delete(d.pending, chatID)
	d.mu.Unlock()
	d.resolvePending(chatID)
}

func (d *Dispatcher) resolvePending(chatID string) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.ResolvePrompt(chatID); err != nil {
		logger.WarnCF(component, "Failed to resolve prompt journal", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func (d *Dispatcher) journalPrompt(chatID, action string, ask *pendingAsk) {
	if d.recorder == nil {
		return
	}
	record := history.PromptRecord{
		Action:      action,
		Command:     ask.command.Name,
		Arguments:   append([]string(nil), ask.collected...),
		PromptIndex: ask.promptIndex,
	}
	if err := d.recorder.LogPrompt(chatID, record); err != nil {
		logger.WarnCF(component, "Failed to journal prompt", map[string]interface{}{
			"chat_id": chatID,
			"command": ask.command.Name,
			"error":   err.Error(),
		})
	}
}

func commandWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// promptText returns the declared question for a slot, or a generated one
// when the command declares slots without prompt texts.
func promptText(cmd *Command, index int) string {
	if index < len(cmd.Prompts) {
		return cmd.Prompts[index]
	}
	slot := cmd.Slots[index]
	return fmt.Sprintf("Please provide %s (%s).", slot.Name, slot.Type)
}

func typeErrorReply(cmd *Command, index int, raw string) Reply {
	slot := cmd.Slots[index]
	return Reply{Text: fmt.Sprintf("Value %q for %s is invalid, expected %s.\n%s",
		raw, slot.Name, slot.Type, promptText(cmd, index))}
}
