package notifications

import (
	"context"
	"errors"
	"net"
	"net/http"

	"doorkeeper/internal/configbus"
)

// Channel names, matching the notifications config section.
const (
	ChannelEmail = configbus.ChannelEmail
	ChannelSMS   = configbus.ChannelSMS
	ChannelNtfy  = configbus.ChannelNtfy
	ChannelMQTT  = configbus.ChannelMQTT
)

// Outcome classifies a delivery attempt.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeFailed             Outcome = "failed"
	OutcomeInvalidCredentials Outcome = "invalid_credentials"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeUnknownError       Outcome = "unknown_error"
)

// Channel delivers a message over one transport. The error, when present,
// explains a non-success outcome.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) (Outcome, error)
}

const userAgent = "Doorkeeper/0.1.0"

func outcomeForStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return OutcomeInvalidCredentials
	case code == http.StatusTooManyRequests:
		return OutcomeRateLimited
	default:
		return OutcomeFailed
	}
}

func outcomeForError(err error) Outcome {
	var netErr net.Error
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &netErr):
		return OutcomeFailed
	default:
		return OutcomeUnknownError
	}
}
