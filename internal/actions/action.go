// Package actions is the closed set of side-effecting verbs shared by automations
// and flow action nodes, and the executor that performs them.
package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindSendMessage        Kind = "send_message"
	KindAddTag             Kind = "add_tag"
	KindRemoveTag          Kind = "remove_tag"
	KindAssignUser         Kind = "assign_user"
	KindMoveDealStage      Kind = "move_deal_stage"
	KindCreateNotification Kind = "create_notification"
	KindCallWebhook        Kind = "call_webhook"
	KindWait               Kind = "wait"
	KindSetVariable        Kind = "set_variable"
)

var (
	ErrUnknownAction       = errors.New("unknown action type")
	ErrInvalidAction       = errors.New("invalid action parameters")
	ErrUnsupportedAction   = errors.New("action not supported here")
	ErrMissingConversation = errors.New("conversation context required")
	ErrMissingChannel      = errors.New("conversation channel not found")
	ErrMissingContact      = errors.New("contact context required")
	ErrMissingDeal         = errors.New("deal context required")

	// ErrWaitCapped means a wait slept only up to the configured maximum.
	ErrWaitCapped = errors.New("wait exceeds the maximum")
)

// Action is one of the typed action structs below.
type Action interface {
	Kind() Kind
	validate() error
}

type SendMessage struct {
	Text     string `json:"text"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

type AddTag struct {
	TagID string `json:"tagId"`
}

type RemoveTag struct {
	TagID string `json:"tagId"`
}

type AssignUser struct {
	UserID string `json:"userId"`
}

// MoveDealStage moves DealID, or the deal of the triggering event when empty.
type MoveDealStage struct {
	DealID  string `json:"dealId,omitempty"`
	StageID string `json:"stageId"`
}

type CreateNotification struct {
	UserID string `json:"userId,omitempty"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

type CallWebhook struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SynchronousDelay blocks the automation firing in place. Flows suspend with
// delay nodes instead and never run this action.
type SynchronousDelay struct {
	Duration float64 `json:"duration"`
	Unit     string  `json:"unit"`
}

// SetVariable writes into the flow execution variables.
type SetVariable struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func (SendMessage) Kind() Kind        { return KindSendMessage }
func (AddTag) Kind() Kind             { return KindAddTag }
func (RemoveTag) Kind() Kind          { return KindRemoveTag }
func (AssignUser) Kind() Kind         { return KindAssignUser }
func (MoveDealStage) Kind() Kind      { return KindMoveDealStage }
func (CreateNotification) Kind() Kind { return KindCreateNotification }
func (CallWebhook) Kind() Kind        { return KindCallWebhook }
func (SynchronousDelay) Kind() Kind   { return KindWait }
func (SetVariable) Kind() Kind        { return KindSetVariable }

func (a SendMessage) validate() error {
	if strings.TrimSpace(a.Text) == "" && a.MediaURL == "" {
		return fmt.Errorf("%w: text or mediaUrl required", ErrInvalidAction)
	}
	return nil
}

func (a AddTag) validate() error    { return required("tagId", a.TagID) }
func (a RemoveTag) validate() error { return required("tagId", a.TagID) }
func (a AssignUser) validate() error {
	return required("userId", a.UserID)
}
func (a MoveDealStage) validate() error { return required("stageId", a.StageID) }
func (a CreateNotification) validate() error {
	return required("title", a.Title)
}

func (a CallWebhook) validate() error {
	if err := required("url", a.URL); err != nil {
		return err
	}
	if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
		return fmt.Errorf("%w: url must be http(s)", ErrInvalidAction)
	}
	return nil
}

func (a SynchronousDelay) validate() error {
	if a.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidAction)
	}
	_, err := UnitDuration(a.Duration, a.Unit)
	return err
}

func (a SetVariable) validate() error { return required("name", a.Name) }

// Wait returns the configured block time.
func (a SynchronousDelay) Wait() time.Duration {
	d, _ := UnitDuration(a.Duration, a.Unit)
	return d
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidAction, name)
	}
	return nil
}

// UnitDuration converts an amount in seconds|minutes|hours|days. Empty unit means seconds.
func UnitDuration(amount float64, unit string) (time.Duration, error) {
	var base time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "s", "second", "seconds":
		base = time.Second
	case "m", "minute", "minutes":
		base = time.Minute
	case "h", "hour", "hours":
		base = time.Hour
	case "d", "day", "days":
		base = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unknown duration unit %q", ErrInvalidAction, unit)
	}
	return time.Duration(amount * float64(base)), nil
}

// Decode turns a stored {"type": ..., params} object into its typed action.
func Decode(raw json.RawMessage) (Action, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return DecodeKind(head.Type, raw)
}

// DecodeKind decodes params for an already known kind.
func DecodeKind(kind Kind, raw json.RawMessage) (Action, error) {
	var a Action
	var err error
	switch kind {
	case KindSendMessage:
		a, err = decodeInto[SendMessage](raw)
	case KindAddTag:
		a, err = decodeInto[AddTag](raw)
	case KindRemoveTag:
		a, err = decodeInto[RemoveTag](raw)
	case KindAssignUser:
		a, err = decodeInto[AssignUser](raw)
	case KindMoveDealStage:
		a, err = decodeInto[MoveDealStage](raw)
	case KindCreateNotification:
		a, err = decodeInto[CreateNotification](raw)
	case KindCallWebhook, "webhook":
		a, err = decodeInto[CallWebhook](raw)
	case KindWait:
		a, err = decodeInto[SynchronousDelay](raw)
	case KindSetVariable:
		a, err = decodeInto[SetVariable](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	if err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeInto[T Action](raw json.RawMessage) (Action, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
	}
	return v, nil
}

// Decoded pairs a stored action with its decode outcome, so one malformed entry
// fails alone instead of hiding the rest of the list.
type Decoded struct {
	Type   string
	Action Action
	Err    error
}

// DecodeList decodes a stored JSON action list entry by entry.
func DecodeList(raw string) ([]Decoded, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}

	out := make([]Decoded, 0, len(items))
	for _, item := range items {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(item, &head)
		a, err := Decode(item)
		out = append(out, Decoded{Type: head.Type, Action: a, Err: err})
	}
	return out, nil
}
