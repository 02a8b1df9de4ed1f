// Package whatsapp sends outbound messages through the WhatsApp Cloud API.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"crm-automation/internal/config"
)

var ErrNotConfigured = errors.New("whatsapp client is not configured")

type Client struct {
	http          *resty.Client
	phoneNumberID string
	version       string
}

func NewClient(cfg *config.Config) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.WhatsAppBaseURL, "/")).
		SetTimeout(15*time.Second).
		SetAuthToken(cfg.WhatsAppToken).
		SetHeader("Content-Type", "application/json")
	return &Client{
		http:          client,
		phoneNumberID: cfg.PhoneNumberID,
		version:       cfg.WhatsAppAPIVersion,
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string    `json:"messaging_product"`
	RecipientType    string    `json:"recipient_type,omitempty"`
	To               string    `json:"to"`
	Type             string    `json:"type"`
	Text             *TextObj  `json:"text,omitempty"`
	Image            *MediaObj `json:"image,omitempty"`
	Document         *MediaObj `json:"document,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// SendRawMessage posts msg and returns the provider message id.
func (c *Client) SendRawMessage(ctx context.Context, msg GenericMessage) (string, error) {
	if c.phoneNumberID == "" {
		return "", ErrNotConfigured
	}
	if msg.MessagingProduct == "" {
		msg.MessagingProduct = "whatsapp"
	}

	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/%s/%s/messages", c.version, c.phoneNumberID))
	if err != nil {
		return "", fmt.Errorf("send %s message: %w", msg.Type, err)
	}
	if resp.IsError() {
		if out.Error != nil {
			return "", fmt.Errorf("API error: %s - %s (code %d)", resp.Status(), out.Error.Message, out.Error.Code)
		}
		return "", fmt.Errorf("API error: %s - %s", resp.Status(), resp.String())
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.SendRawMessage(ctx, GenericMessage{
		To:   to,
		Type: "text",
		Text: &TextObj{Body: body},
	})
}

// SendMedia sends an image by link with an optional caption.
func (c *Client) SendMedia(ctx context.Context, to, link, caption string) (string, error) {
	return c.SendRawMessage(ctx, GenericMessage{
		To:    to,
		Type:  "image",
		Image: &MediaObj{Link: link, Caption: caption},
	})
}
