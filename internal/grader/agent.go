// internal/grader/agent.go
package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	custom_errors "repo-grader/internal/errors"
	"repo-grader/internal/model"
)

const (
	defaultAgentBaseURL = "https://api.anthropic.com"
	agentAPIVersion     = "2023-06-01"
	maxOutputTokens     = 4096
	summaryLimit        = 200
)

// AgentClient grades repository content through a messages-style LLM API.
// It implements Task.
type AgentClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
}

// NewAgentClient creates an AgentClient. An empty baseURL selects the default
// endpoint.
func NewAgentClient(baseURL, apiKey, agentModel string, logger *slog.Logger) *AgentClient {
	if baseURL == "" {
		baseURL = defaultAgentBaseURL
	}
	return &AgentClient{
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   agentModel,
		logger:  logger,
	}
}

type agentRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system"`
	Messages  []agentMessage `json:"messages"`
}

type agentMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type agentResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Grade sends the rendered repository to the agent and returns its feedback.
func (c *AgentClient) Grade(ctx context.Context, prompt, repositoryContent string) (*Feedback, error) {
	reqBody := agentRequest{
		Model:     c.model,
		MaxTokens: maxOutputTokens,
		System:    prompt,
		Messages: []agentMessage{
			{Role: "user", Content: repositoryContent},
		},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", agentAPIVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &custom_errors.GradingError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, &custom_errors.GradingError{
			Err: fmt.Errorf("agent returned status %s: %s", resp.Status, apiErr.Error.Message),
		}
	}

	var payload agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &custom_errors.GradingError{Err: fmt.Errorf("failed to decode agent response: %w", err)}
	}

	var sb strings.Builder
	for _, block := range payload.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	detail := strings.TrimSpace(sb.String())
	if detail == "" {
		return nil, &custom_errors.GradingError{Err: fmt.Errorf("agent returned no text content")}
	}

	return &Feedback{
		Summary: summarize(detail),
		Detail:  detail,
		Usage: model.TokenUsage{
			InputTokens:  payload.Usage.InputTokens,
			OutputTokens: payload.Usage.OutputTokens,
			TotalTokens:  payload.Usage.InputTokens + payload.Usage.OutputTokens,
		},
	}, nil
}

// summarize extracts the feedback's first line, capped for table display.
// The cap counts runes so a multi-byte character is never split.
func summarize(detail string) string {
	line := detail
	if i := strings.IndexByte(detail, '\n'); i >= 0 {
		line = detail[:i]
	}
	line = strings.TrimSpace(line)
	if runes := []rune(line); len(runes) > summaryLimit {
		line = string(runes[:summaryLimit-3]) + "..."
	}
	return line
}
