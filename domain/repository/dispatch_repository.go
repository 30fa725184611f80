package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
)

type DispatcherConfig struct {
	URL             string      `mapstructure:"url"`
	DefaultPipeline string      `mapstructure:"default_pipeline"`
	CallbackBaseURL string      `mapstructure:"callback_base_url"`
	Retry           RetryPolicy `mapstructure:",squash"`
}

// 復旧パイプラインを webhook で起動する
type WebhookDispatcher struct {
	url        string
	token      string
	retry      RetryPolicy
	httpClient *http.Client
}

func NewWebhookDispatcher(c DispatcherConfig) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:        strings.TrimRight(c.URL, "/"),
		token:      os.Getenv("DISPATCH_TOKEN"),
		retry:      c.Retry,
		httpClient: &http.Client{},
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, req model.DispatchRequest) (string, error) {
	if d.url == "" {
		return "", fmt.Errorf("%w: dispatcher url not configured", entity.ErrDispatch)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %w", entity.ErrDispatch, err)
	}

	var ref string
	err = d.retry.Do(ctx, "dispatcher.dispatch", func(ctx context.Context) error {
		r, err := d.post(ctx, body, req.IncidentID)
		if err != nil {
			return err
		}
		ref = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", entity.ErrDispatch, req.Pipeline, err)
	}
	return ref, nil
}

func (d *WebhookDispatcher) post(ctx context.Context, body []byte, incidentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	// 再送されてもパイプライン側で重複起動しないようにする
	req.Header.Set("Idempotency-Key", incidentID)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("dispatcher returned %s", resp.Status)
	case resp.StatusCode >= 300:
		return "", Permanent(fmt.Errorf("dispatcher returned %s", resp.Status))
	}

	var out model.DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Permanent(fmt.Errorf("decode response: %w", err))
	}
	if out.ExecutionRef == "" {
		return "", Permanent(fmt.Errorf("dispatcher returned no execution_ref"))
	}
	return out.ExecutionRef, nil
}
