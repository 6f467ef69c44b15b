package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// smsChannel sends one Twilio message per recipient.
type smsChannel struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	recipients []string
	client     *http.Client
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *smsChannel) Name() string { return ChannelSMS }

func (s *smsChannel) Send(ctx context.Context, msg Message) (Outcome, error) {
	if s.accountSID == "" || s.authToken == "" {
		return OutcomeInvalidCredentials, fmt.Errorf("twilio credentials are not configured")
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.baseURL, "/"), url.PathEscape(s.accountSID))

	for _, to := range s.recipients {
		form := url.Values{}
		form.Set("To", to)
		form.Set("From", s.from)
		form.Set("Body", msg.Body)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return OutcomeUnknownError, fmt.Errorf("build twilio request: %w", err)
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", userAgent)

		outcome, err := s.do(req)
		if outcome != OutcomeSuccess {
			return outcome, fmt.Errorf("sms to %s: %w", to, err)
		}
	}
	return OutcomeSuccess, nil
}

func (s *smsChannel) do(req *http.Request) (Outcome, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return outcomeForError(err), err
	}
	defer resp.Body.Close()

	outcome := outcomeForStatus(resp.StatusCode)
	if outcome == OutcomeSuccess {
		_, _ = io.Copy(io.Discard, resp.Body)
		return outcome, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr twilioError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return outcome, fmt.Errorf("twilio returned %d (code %d): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
	}
	return outcome, fmt.Errorf("twilio returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
