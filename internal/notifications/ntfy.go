package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ntfyChannel struct {
	endpoint string
	client   *http.Client
}

func newNtfyChannel(server, topic string, client *http.Client) *ntfyChannel {
	endpoint := strings.TrimSpace(topic)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimRight(server, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}
	return &ntfyChannel{endpoint: endpoint, client: client}
}

func (n *ntfyChannel) Name() string { return ChannelNtfy }

func (n *ntfyChannel) Send(ctx context.Context, msg Message) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return OutcomeUnknownError, fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}
	if msg.Priority != "" && msg.Priority != "default" {
		req.Header.Set("Priority", msg.Priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return outcomeForError(err), fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if outcome := outcomeForStatus(resp.StatusCode); outcome != OutcomeSuccess {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return outcome, fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return OutcomeSuccess, nil
}
