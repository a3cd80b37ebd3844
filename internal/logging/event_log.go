package logging

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const eventLogSize = 50

type eventLogItem struct {
	message string
	fields  log.Fields
}

// EventLog buffers radio events and writes them from a background goroutine,
// so that emitting a log line never blocks a timing sensitive caller.
// Events are dropped when the buffer is full.
type EventLog struct {
	prefix string
	items  chan eventLogItem

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEventLog creates and starts a new EventLog.
func NewEventLog(prefix string) *EventLog {
	l := EventLog{
		prefix: prefix,
		items:  make(chan eventLogItem, eventLogSize),
	}

	l.wg.Add(1)
	go l.loop()

	return &l
}

// Log queues the given event.
func (l *EventLog) Log(message string, fields log.Fields) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return
	}

	select {
	case l.items <- eventLogItem{message: message, fields: fields}:
	default:
		eventLogDropCounter().Inc()
	}
}

// Close flushes the queued events and stops the background goroutine.
func (l *EventLog) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.items)
	}
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *EventLog) loop() {
	defer l.wg.Done()

	for item := range l.items {
		log.WithFields(item.fields).Info(l.prefix + ": " + item.message)
	}
}
