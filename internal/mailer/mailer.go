// Package mailer delivers rendered emails to the outbound mail
// gateway over HTTP. Requests are HMAC-signed so the gateway can
// verify origin.
package mailer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/karlennis/fi-email-automation-sub000/internal/circuitbreaker"
	"github.com/karlennis/fi-email-automation-sub000/internal/executor"
)

type HTTPSender struct {
	endpoint string
	host     string
	secret   string
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
}

type Option func(*HTTPSender)

// WithBreaker guards sends with a circuit breaker keyed by the
// gateway host.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *HTTPSender) { s.breaker = cb }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPSender) { s.client = c }
}

func NewHTTPSender(endpoint, secret string, opts ...Option) (*HTTPSender, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse mail endpoint: %w", err)
	}
	s := &HTTPSender{
		endpoint: endpoint,
		host:     u.Host,
		secret:   secret,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type mailPayload struct {
	To          string   `json:"to"`
	ToName      string   `json:"toName,omitempty"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
}

// Send posts one message to the gateway with an HMAC signature.
// Headers: X-FIMail-Signature. A 422 from the gateway means the
// address rejected the message (hard bounce).
func (s *HTTPSender) Send(ctx context.Context, msg executor.Message) executor.SendResult {
	start := time.Now()

	if s.breaker != nil {
		if err := s.breaker.Allow(s.host); err != nil {
			return executor.SendResult{Error: fmt.Errorf("mail gateway %s: %w", s.host, err), Duration: time.Since(start)}
		}
	}

	body, err := json.Marshal(mailPayload{
		To:          msg.To,
		ToName:      msg.ToName,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Attachments: msg.Attachments,
	})
	if err != nil {
		return executor.SendResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return executor.SendResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-FIMail-Signature", ComputeSignature(s.secret, body))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.recordFailure()
		return executor.SendResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.recordSuccess()
		return executor.SendResult{Duration: time.Since(start)}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The gateway reached the recipient's provider and was
		// rejected; the gateway itself is healthy.
		s.recordSuccess()
		return executor.SendResult{Bounced: true, Duration: time.Since(start)}
	default:
		s.recordFailure()
		return executor.SendResult{Error: fmt.Errorf("mail gateway returned status %d", resp.StatusCode), Duration: time.Since(start)}
	}
}

func (s *HTTPSender) recordSuccess() {
	if s.breaker != nil {
		s.breaker.RecordSuccess(s.host)
	}
}

func (s *HTTPSender) recordFailure() {
	if s.breaker != nil {
		s.breaker.RecordFailure(s.host)
	}
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for gateways to verify incoming mail requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
