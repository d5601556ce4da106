package model

import (
	"sync"
	"time"
)

// Role of a chat message author
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type ChatMessage struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Transcript is an ordered, append-only chat log.
// Truncate exists only to roll back a turn that failed.
type Transcript struct {
	mu       sync.RWMutex
	messages []ChatMessage
}

// NewTranscript restores a transcript from saved messages
func NewTranscript(messages []ChatMessage) *Transcript {
	t := &Transcript{}
	t.messages = append(t.messages, messages...)
	return t
}

func (t *Transcript) Append(m ChatMessage) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.At.IsZero() {
		m.At = time.Now()
	}
	t.messages = append(t.messages, m)
	return len(t.messages)
}

// Messages returns a copy of the log
func (t *Transcript) Messages() []ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Truncate drops every message past n
func (t *Transcript) Truncate(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n >= 0 && n < len(t.messages) {
		t.messages = t.messages[:n]
	}
}

// Reset clears the log when a new analysis is opened
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
