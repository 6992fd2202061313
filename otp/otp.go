package otp

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

	"devconnect/logger"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by the disabled sender used in production without credentials.
var ErrNotConfigured = errors.New("otp delivery is not configured")

type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

type Config struct {
	Token         string
	PhoneNumberID string
	APIURL        string
	Template      string
	Production    bool
}

// NewSender returns a WhatsApp sender when credentials are present. Without them it logs codes to the
// console outside production and refuses to send in production.
func NewSender(cfg Config) Sender {
	if cfg.Token != "" && cfg.PhoneNumberID != "" {
		return NewWhatsAppSender(cfg, &http.Client{Timeout: 10 * time.Second})
	}
	if cfg.Production {
		return disabledSender{}
	}
	return ConsoleSender{}
}

type ConsoleSender struct{}

func (ConsoleSender) SendOTP(_ context.Context, phone, code string) error {
	logger.Warn("whatsapp not configured, printing otp", zap.String("phone", phone), zap.String("code", code))
	return nil
}

type disabledSender struct{}

func (disabledSender) SendOTP(context.Context, string, string) error { return ErrNotConfigured }

// WhatsAppSender posts OTP messages to the WhatsApp Business Graph API.
type WhatsAppSender struct {
	client   *http.Client
	endpoint string
	token    string
	template string
}

func NewWhatsAppSender(cfg Config, client *http.Client) *WhatsAppSender {
	return &WhatsAppSender{
		client:   client,
		endpoint: strings.TrimRight(cfg.APIURL, "/") + "/" + cfg.PhoneNumberID + "/messages",
		token:    cfg.Token,
		template: cfg.Template,
	}
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (s *WhatsAppSender) body(phone, code string) map[string]interface{} {
	to := strings.TrimPrefix(phone, "+")
	if s.template == "" {
		return map[string]interface{}{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text": map[string]string{
				"body": fmt.Sprintf("Your DevConnect verification code is %s. It expires in a few minutes.", code),
			},
		}
	}
	param := []map[string]string{{"type": "text", "text": code}}
	return map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template": map[string]interface{}{
			"name":     s.template,
			"language": map[string]string{"code": "en_US"},
			"components": []map[string]interface{}{
				{"type": "body", "parameters": param},
				{"type": "button", "sub_type": "url", "index": "0", "parameters": param},
			},
		},
	}
}

func (s *WhatsAppSender) SendOTP(ctx context.Context, phone, code string) error {
	payload, err := json.Marshal(s.body(phone, code))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ge graphError
		if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("whatsapp api %d: %s", resp.StatusCode, ge.Error.Message)
		}
		return fmt.Errorf("whatsapp api %d", resp.StatusCode)
	}
	return nil
}
