// Package delivery drains the outbound send queue into the messaging provider.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"crm-automation/internal/models"
	"crm-automation/internal/queue"
)

var ErrUnsupportedProvider = errors.New("unsupported channel provider")

// Sender delivers one message and returns the provider message id.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendMedia(ctx context.Context, to, link, caption string) (string, error)
}

// StatusUpdater records the delivery outcome on the message row.
type StatusUpdater interface {
	UpdateMessageStatus(ctx context.Context, id, status, externalID, errMsg string) error
}

// Observer is told about every delivered or failed message.
type Observer interface {
	MessageStatusChanged(job models.SendJob, status string)
}

type Worker struct {
	queue    queue.Queue
	senders  map[string]Sender
	messages StatusUpdater
	observer Observer
	logger   zerolog.Logger
}

type Option func(*Worker)

// WithSender routes jobs of provider to s.
func WithSender(provider string, s Sender) Option {
	return func(w *Worker) { w.senders[provider] = s }
}

func WithObserver(o Observer) Option {
	return func(w *Worker) { w.observer = o }
}

func NewWorker(q queue.Queue, messages StatusUpdater, logger zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		queue:    q,
		senders:  make(map[string]Sender),
		messages: messages,
		logger:   logger.With().Str("component", "delivery").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("providers", len(w.senders)).Msg("delivery worker started")
	return w.queue.Consume(ctx, w.Deliver)
}

// Deliver sends one job and records sent or failed on its message.
func (w *Worker) Deliver(ctx context.Context, job models.SendJob) error {
	logger := w.logger.With().Str("message_id", job.MessageID).Str("provider", job.Provider).Logger()

	externalID, sendErr := w.send(ctx, job)
	status, errMsg := models.MessageSent, ""
	if sendErr != nil {
		status, errMsg = models.MessageFailed, sendErr.Error()
		logger.Warn().Err(sendErr).Msg("outbound message failed")
	} else {
		logger.Debug().Str("external_id", externalID).Msg("outbound message sent")
	}

	if job.MessageID != "" {
		if err := w.messages.UpdateMessageStatus(ctx, job.MessageID, status, externalID, errMsg); err != nil {
			return fmt.Errorf("record delivery status: %w", err)
		}
	}
	if w.observer != nil {
		w.observer.MessageStatusChanged(job, status)
	}
	return sendErr
}

func (w *Worker) send(ctx context.Context, job models.SendJob) (string, error) {
	provider := job.Provider
	if provider == "" {
		provider = "meta"
	}
	sender, ok := w.senders[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	if job.MediaURL != "" {
		return sender.SendMedia(ctx, job.To, job.MediaURL, job.Text)
	}
	return sender.SendText(ctx, job.To, job.Text)
}
