package history

import "sync"

// MemoryRecorder is an in-memory Recorder for tests and for embedders that
// do not want a database on disk.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
	prompts map[string]PromptRecord
	nextID  int64
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{prompts: make(map[string]PromptRecord)}
}

func (r *MemoryRecorder) LogInteraction(direction Direction, chatID, messageType string, content map[string]interface{}, updateID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries = append(r.entries, Entry{
		ID:          r.nextID,
		Direction:   direction,
		ChatID:      chatID,
		UpdateID:    updateID,
		MessageType: messageType,
		Content:     content,
	})
	return nil
}

func (r *MemoryRecorder) LogPrompt(chatID string, record PromptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	args := append([]string(nil), record.Arguments...)
	record.Arguments = args
	r.prompts[chatID] = record
	return nil
}

func (r *MemoryRecorder) ActivePrompt(chatID string) (*PromptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.prompts[chatID]
	if !ok {
		return nil, nil
	}
	snapshot := record
	snapshot.Arguments = append([]string(nil), record.Arguments...)
	return &snapshot, nil
}

func (r *MemoryRecorder) ActivePrompts() (map[string]PromptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]PromptRecord, len(r.prompts))
	for k, v := range r.prompts {
		out[k] = v
	}
	return out, nil
}

func (r *MemoryRecorder) ResolvePrompt(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.prompts, chatID)
	return nil
}

// Entries returns a snapshot of everything recorded so far.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}
