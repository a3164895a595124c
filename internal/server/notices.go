package server

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultNoticeLimit is how many recent messages the dashboard keeps.
const DefaultNoticeLimit = 20

// Notice is a message shown on the dashboard.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notices collects controller alerts and notices for the dashboard. It
// implements controller.Notifier.
type Notices struct {
	mu     sync.Mutex
	items  []Notice
	limit  int
	logger *slog.Logger
}

// NewNotices keeps at most limit messages, newest last.
func NewNotices(limit int, logger *slog.Logger) *Notices {
	if limit <= 0 {
		limit = DefaultNoticeLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notices{limit: limit, logger: logger.With("component", "dashboard")}
}

func (n *Notices) Alert(msg string) {
	n.logger.Error(msg)
	n.add("alert", msg)
}

func (n *Notices) Notice(msg string) {
	n.logger.Info(msg)
	n.add("notice", msg)
}

func (n *Notices) add(level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notice{Level: level, Message: msg, At: time.Now()})
	if over := len(n.items) - n.limit; over > 0 {
		n.items = append([]Notice(nil), n.items[over:]...)
	}
}

// List returns a copy of the kept messages.
func (n *Notices) List() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice{}, n.items...)
}
