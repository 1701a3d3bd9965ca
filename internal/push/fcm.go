package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "penwatch/pkg/logx"
)

const defaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMConfig configures the legacy HTTP multicast endpoint.
type FCMConfig struct {
	Endpoint  string
	ServerKey string
	Timeout   time.Duration
	// DryRun builds and logs messages without sending them.
	DryRun bool
}

// FCM sends multicast messages via the legacy FCM HTTP API.
type FCM struct {
	cfg    FCMConfig
	client *http.Client
	log    logx.Logger
}

func NewFCM(cfg FCMConfig, log logx.Logger) (*FCM, error) {
	if !cfg.DryRun && strings.TrimSpace(cfg.ServerKey) == "" {
		return nil, errors.New("push: server key is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FCM{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

type fcmRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

func (f *FCM) SendMulticast(ctx context.Context, msg Message) (Receipt, error) {
	if len(msg.Tokens) == 0 {
		return Receipt{}, nil
	}
	if f.cfg.DryRun {
		f.log.Info("dry-run multicast",
			logx.String("title", msg.Title),
			logx.Int("tokens", len(msg.Tokens)))
		return Receipt{SuccessCount: len(msg.Tokens)}, nil
	}

	body, err := json.Marshal(fcmRequest{
		RegistrationIDs: msg.Tokens,
		Notification:    fcmNotification{Title: msg.Title, Body: msg.Body},
		Data:            msg.Data,
	})
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+f.cfg.ServerKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close()

	// Bound the read; FCM responses are small.
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Receipt{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Receipt{}, fmt.Errorf("push: endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out fcmResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return Receipt{}, fmt.Errorf("push: bad response: %w", err)
	}
	return Receipt{SuccessCount: out.Success, FailureCount: out.Failure}, nil
}
