package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPWebhookCaller sends call_webhook requests as JSON with resty. It does not retry.
type HTTPWebhookCaller struct {
	client *resty.Client
}

func NewHTTPWebhookCaller(timeout time.Duration) *HTTPWebhookCaller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "crm-automation/1.0")
	return &HTTPWebhookCaller{client: client}
}

func (c *HTTPWebhookCaller) Call(ctx context.Context, req WebhookRequest) error {
	r := c.client.R().SetContext(ctx).SetHeaders(req.Headers)
	if req.Body != nil && req.Method != "GET" {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return fmt.Errorf("webhook %s %s: %w", req.Method, req.URL, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s %s: status %d", req.Method, req.URL, resp.StatusCode())
	}
	return nil
}
