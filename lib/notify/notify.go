package notify

import (
	"fmt"
	"sync"
	"time"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

type Level int

const (
	Info Level = iota
	Success
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "info"
}

type Message struct {
	Time  time.Time
	Level Level
	Text  string
}

func (m Message) String() string {
	return fmt.Sprintf("%s\t%s\t%s", m.Time.Format(time.RFC3339), m.Level, m.Text)
}

// Log implements compose.Notifier. Messages are logged and the most recent
// ones kept for the messages ipc command.
type Log struct {
	mu     sync.Mutex
	recent []Message
	size   int
	logger log.Logger
}

func New(size int) *Log {
	return &Log{size: size, logger: log.NewLogger("notify", 2)}
}

func (n *Log) push(level Level, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = append(n.recent, Message{Time: time.Now(), Level: level, Text: text})
	if len(n.recent) > n.size {
		n.recent = n.recent[len(n.recent)-n.size:]
	}
}

func (n *Log) Info(msg string) {
	n.logger.Infof("%s", msg)
	n.push(Info, msg)
}

func (n *Log) Success(msg string) {
	n.logger.Infof("%s", msg)
	n.push(Success, msg)
}

func (n *Log) Error(msg string) {
	n.logger.Errorf("%s", msg)
	n.push(Error, msg)
}

// Recent returns the kept messages, oldest first.
func (n *Log) Recent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.recent...)
}
