package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// FileConfig holds file recorder configuration
type FileConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// WebhookConfig holds webhook recorder configuration
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// FileRecorder appends audit events to a local file as JSON lines.
type FileRecorder struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileRecorder creates a new FileRecorder, opening the file for append.
func NewFileRecorder(cfg FileConfig) (*FileRecorder, error) {
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileRecorder{file: f}, nil
}

// Record writes the event as one JSON line
func (r *FileRecorder) Record(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// WebhookRecorder POSTs audit events to an HTTP endpoint, one event per
// request.
type WebhookRecorder struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookRecorder creates a new WebhookRecorder
func NewWebhookRecorder(cfg WebhookConfig) *WebhookRecorder {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookRecorder{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Record sends the event to the webhook
func (r *WebhookRecorder) Record(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send audit webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("audit webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close is a no-op for the webhook recorder.
func (r *WebhookRecorder) Close() error {
	return nil
}
