package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-automation/internal/models"
	"crm-automation/internal/queue"
)

type fakeSender struct {
	texts []string
	media []string
	err   error
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.texts = append(f.texts, to+":"+body)
	return "wamid.1", nil
}

func (f *fakeSender) SendMedia(_ context.Context, to, link, caption string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.media = append(f.media, to+":"+link+":"+caption)
	return "wamid.2", nil
}

type statusCall struct {
	id, status, externalID, errMsg string
}

type fakeStatuses struct {
	calls chan statusCall
}

func newFakeStatuses() *fakeStatuses {
	return &fakeStatuses{calls: make(chan statusCall, 8)}
}

func (f *fakeStatuses) UpdateMessageStatus(_ context.Context, id, status, externalID, errMsg string) error {
	f.calls <- statusCall{id, status, externalID, errMsg}
	return nil
}

func TestDeliverMarksSent(t *testing.T) {
	sender := &fakeSender{}
	statuses := newFakeStatuses()
	w := NewWorker(queue.NewMemoryQueue(1), statuses, zerolog.Nop(), WithSender("meta", sender))

	err := w.Deliver(context.Background(), models.SendJob{MessageID: "m1", Provider: "meta", To: "5511", Text: "oi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"5511:oi"}, sender.texts)
	assert.Equal(t, statusCall{"m1", models.MessageSent, "wamid.1", ""}, <-statuses.calls)
}

func TestDeliverMediaUsesCaption(t *testing.T) {
	sender := &fakeSender{}
	w := NewWorker(queue.NewMemoryQueue(1), newFakeStatuses(), zerolog.Nop(), WithSender("meta", sender))

	require.NoError(t, w.Deliver(context.Background(), models.SendJob{MessageID: "m1", To: "5511", Text: "menu", MediaURL: "https://cdn/x.png"}))
	assert.Equal(t, []string{"5511:https://cdn/x.png:menu"}, sender.media)
}

func TestDeliverMarksFailed(t *testing.T) {
	statuses := newFakeStatuses()
	w := NewWorker(queue.NewMemoryQueue(1), statuses, zerolog.Nop(), WithSender("meta", &fakeSender{err: errors.New("rate limited")}))

	err := w.Deliver(context.Background(), models.SendJob{MessageID: "m1", Provider: "meta", To: "5511", Text: "oi"})
	require.Error(t, err)
	call := <-statuses.calls
	assert.Equal(t, models.MessageFailed, call.status)
	assert.Equal(t, "rate limited", call.errMsg)
}

func TestDeliverUnknownProvider(t *testing.T) {
	statuses := newFakeStatuses()
	w := NewWorker(queue.NewMemoryQueue(1), statuses, zerolog.Nop())

	err := w.Deliver(context.Background(), models.SendJob{MessageID: "m1", Provider: "telegram"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
	assert.Equal(t, models.MessageFailed, (<-statuses.calls).status)
}

func TestRunConsumesQueue(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	statuses := newFakeStatuses()
	w := NewWorker(q, statuses, zerolog.Nop(), WithSender("meta", &fakeSender{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, q.EnqueueSend(ctx, models.SendJob{MessageID: "m9", Provider: "meta", To: "5511", Text: "oi"}))
	select {
	case call := <-statuses.calls:
		assert.Equal(t, "m9", call.id)
		assert.Equal(t, models.MessageSent, call.status)
	case <-time.After(2 * time.Second):
		t.Fatal("job not delivered")
	}
}
