package services

import (
	"context"
	"sync"
	"time"

	"chatkit-api/internal/logger"
	"chatkit-api/internal/models"

	"github.com/sirupsen/logrus"
)

const recorderWriteTimeout = 10 * time.Second

// UsageRecorder decouples ledger writes from the chat hot path. Enqueue
// never blocks and never returns an error to the caller: token accounting is
// best-effort telemetry, and a full queue or failed write must not touch the
// response. Dropped entries are logged.
type UsageRecorder interface {
	Enqueue(entry *models.UsageLog)
	Close()
}

type usageRecorder struct {
	usage   UsageService
	queue   chan *models.UsageLog
	done    chan struct{}
	closeMu sync.Once
}

func NewUsageRecorder(usage UsageService, queueSize int) UsageRecorder {
	if queueSize <= 0 {
		queueSize = 256
	}

	r := &usageRecorder{
		usage: usage,
		queue: make(chan *models.UsageLog, queueSize),
		done:  make(chan struct{}),
	}

	go r.run()
	return r
}

func (r *usageRecorder) Enqueue(entry *models.UsageLog) {
	select {
	case r.queue <- entry:
	default:
		logger.LogEvent(logrus.WarnLevel, "Usage queue full, dropping entry", logrus.Fields{
			"user_id":      entry.UserID,
			"main_call_id": entry.MainCallID,
		})
	}
}

// Close drains pending entries and stops the worker.
func (r *usageRecorder) Close() {
	r.closeMu.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *usageRecorder) run() {
	defer close(r.done)

	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
		if _, err := r.usage.Record(ctx, entry); err != nil {
			logger.LogEvent(logrus.ErrorLevel, "Failed to record usage entry", logrus.Fields{
				"user_id":      entry.UserID,
				"main_call_id": entry.MainCallID,
				"node_call_id": entry.NodeCallID,
				"error":        err.Error(),
			})
		}
		cancel()
	}
}
