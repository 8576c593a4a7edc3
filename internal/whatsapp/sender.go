// Package whatsapp delivers replies through the Twilio WhatsApp messaging
// API. The sender performs no retries; the enclosing job owns retry policy.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Sender struct {
	authToken string
	from      string
	client    *http.Client
	logger    *slog.Logger
	apiURL    string
	sid       string
}

func NewSender(accountSID, authToken, from string, logger *slog.Logger) *Sender {
	return &Sender{
		authToken: authToken,
		from:      from,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		apiURL:    fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", accountSID),
		sid:       accountSID,
	}
}

// Send delivers one message and returns the provider message SID.
func (s *Sender) Send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{
		"From": {s.from},
		"To":   {to},
		"Body": {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.sid, s.authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var errResp struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return "", fmt.Errorf("provider error %d: %d — %s", resp.StatusCode, errResp.Code, errResp.Message)
		}
		return "", fmt.Errorf("provider error %d: %s", resp.StatusCode, string(respBody))
	}

	var msgResp struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	s.logger.Info("message sent", "to", to, "sid", msgResp.SID)
	return msgResp.SID, nil
}
