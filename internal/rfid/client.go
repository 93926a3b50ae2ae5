// internal/rfid/client.go
package rfid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Client talks to the physical RFID reader service over HTTP. Bind is a
// long poll that resolves when a card is scanned, so no client-wide timeout
// is set; every call is bounded by its context instead. A circuit breaker
// guards the reader service, which lives on the shop floor network and
// disappears more often than anything else we call.
type Client struct {
	httpClient *resty.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "rfid-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Cancellations come from the operator and refusals are the
		// provider doing its job; neither must trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, ErrVerificationFailed) ||
				errors.Is(err, ErrBindingIncomplete)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rfid provider breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}
}

// Bind asks the provider for a session bound to the next card scan. It
// blocks until the scan happens or ctx ends.
func (c *Client) Bind(ctx context.Context) (*Binding, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var binding Binding
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetResult(&binding).
			ForceContentType("application/json").
			Post("/bind")
		if err != nil {
			return nil, fmt.Errorf("bind call: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("bind: unexpected status %d", resp.StatusCode())
		}
		return &binding, nil
	})
	if err != nil {
		return nil, err
	}

	binding := result.(*Binding)
	if binding.Token == "" || binding.UserID == "" || binding.UserName == "" {
		c.logger.Warn("provider returned partial binding",
			zap.Bool("has_token", binding.Token != ""),
			zap.Bool("has_user_id", binding.UserID != ""),
			zap.Bool("has_user_name", binding.UserName != ""),
		)
		return nil, ErrBindingIncomplete
	}

	return binding, nil
}

// Verify resolves a bound session to an internal member identity.
func (c *Client) Verify(ctx context.Context, token, userName string) (*Identity, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var identity Identity
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetBody(map[string]string{"token": token, "user_name": userName}).
			SetResult(&identity).
			ForceContentType("application/json").
			Post("/verify")
		if err != nil {
			return nil, fmt.Errorf("verify call: %w", err)
		}
		switch resp.StatusCode() {
		case http.StatusOK:
			return &identity, nil
		case http.StatusUnauthorized, http.StatusNotFound:
			return nil, ErrVerificationFailed
		default:
			return nil, fmt.Errorf("verify: unexpected status %d", resp.StatusCode())
		}
	})
	if err != nil {
		return nil, err
	}

	identity := result.(*Identity)
	if identity.MemberID == uuid.Nil {
		return nil, ErrVerificationFailed
	}
	return identity, nil
}

// Cancel releases a bound session token. Best effort: callers log the error
// and move on, the provider expires stale tokens on its own.
func (c *Client) Cancel(ctx context.Context, token string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetBody(map[string]string{"token": token}).
			Post("/cancel")
		if err != nil {
			return nil, fmt.Errorf("cancel call: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("cancel: unexpected status %d", resp.StatusCode())
		}
		return nil, nil
	})
	return err
}
