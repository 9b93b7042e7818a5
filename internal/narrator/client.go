package narrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"council/internal/metrics"
)

// ErrUnavailable marks exhaustion of the retry/fallback sequence. The
// orchestrator degrades to a local system message on it instead of failing
// the user's turn.
var ErrUnavailable = errors.New("narration service unavailable")

// Client talks to the external narration service over bearer-authenticated
// JSON. Message sends go through the primary path, fall back to the legacy
// chat path on failure, and the whole sequence is retried once.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryDelay time.Duration
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		retryDelay: 500 * time.Millisecond,
	}
}

// Configured reports whether a base URL was supplied. When false the
// orchestrator skips the network entirely.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Reply is the narration answer for one message. NewSessionID is non-empty
// when the service rotated the session, which the caller must persist.
type Reply struct {
	Answer       string
	NewSessionID string
}

type sessionRequest struct {
	PersonaID   string `json:"persona_id"`
	Description string `json:"description"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type messageResponse struct {
	Answer       string `json:"answer"`
	Error        string `json:"error"`
	NewSessionID string `json:"new_session_id"`
}

// CreateSession opens a narration session for a persona.
func (c *Client) CreateSession(ctx context.Context, personaID, description string) (string, error) {
	var resp sessionResponse
	err := c.post(ctx, "/v1/sessions", sessionRequest{PersonaID: personaID, Description: description}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("narration session: %s", resp.Error)
	}
	return resp.SessionID, nil
}

// SendMessage delivers text to the session and returns the narrator's
// answer. On network error or non-2xx it tries the legacy chat endpoint,
// then retries the pair once after a short delay before giving up with
// ErrUnavailable.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (*Reply, error) {
	payload := messageRequest{SessionID: sessionID, Text: text}
	paths := []string{"/v1/sessions/" + sessionID + "/messages", "/v1/chat"}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				metrics.NarrationCalls.WithLabelValues("unavailable").Inc()
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}
		for i, path := range paths {
			var resp messageResponse
			err := c.post(ctx, path, payload, &resp)
			if err == nil && resp.Error != "" {
				err = fmt.Errorf("narration error: %s", resp.Error)
			}
			if err != nil {
				lastErr = err
				log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("narration call failed")
				continue
			}
			if i > 0 {
				metrics.NarrationCalls.WithLabelValues("fallback").Inc()
			} else {
				metrics.NarrationCalls.WithLabelValues("success").Inc()
			}
			return &Reply{Answer: resp.Answer, NewSessionID: resp.NewSessionID}, nil
		}
	}
	metrics.NarrationCalls.WithLabelValues("unavailable").Inc()
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// GetSession returns the service's opaque session snapshot.
func (c *Client) GetSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sessions/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("narration get session: status %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// DeleteSession tears a session down. Best-effort for callers; they log and
// move on when it fails.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("narration delete session: status %d", res.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("narration call: status %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
