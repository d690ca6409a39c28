package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

// HTTPCompleter implements Completer against a generic OpenAI-style chat
// completion REST endpoint, per spec.md's llm.provider/llm.api_base
// configuration: provider-agnostic, not a vendor SDK.
type HTTPCompleter struct {
	APIBase string
	APIKey  string
	Model   string
	Client  *http.Client
}

// NewHTTPCompleter returns a Completer bound to baseURL, wrapping requests
// with a timeout client.
func NewHTTPCompleter(apiBase, apiKey, model string, timeout time.Duration) *HTTPCompleter {
	return &HTTPCompleter{
		APIBase: apiBase,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// Complete sends one chat-completion request and returns the first
// choice's message content, classifying failures into the LlmError
// taxonomy so the retrying Client can tell transient from permanent ones.
func (c *HTTPCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var reqBody = chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmProtocolError, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmProtocolError, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmUnavailable, "reading response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmRateLimit, "rate limited", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmAuthenticationError, "authentication rejected", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmUnavailable, "provider error", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmProtocolError, "unexpected status", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmProtocolError, "decoding response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", chatlakeerr.NewLlmError(chatlakeerr.LlmProtocolError, "response carried no choices", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}
