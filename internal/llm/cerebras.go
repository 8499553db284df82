package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CerebrasClient generates interview questions through the Cerebras
// chat-completions API.
type CerebrasClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewCerebrasClient(apiKey, model string) *CerebrasClient {
	return &CerebrasClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   "https://api.cerebras.ai/v1/chat/completions",
	}
}

// QuestionContext is the session context the generator sees: the role
// being screened for and the prior exchanges of this session.
type QuestionContext struct {
	JobTitle     string
	CandidateRef string
	TurnNumber   int
	PriorTurns   []PriorTurn
}

// PriorTurn is a question already asked with the transcript captured
// for it.
type PriorTurn struct {
	Question string
	Answer   string
}

// NextQuestion asks the model for the next interview question given the
// conversation so far. The reply is reduced to a single question line.
func (c *CerebrasClient) NextQuestion(ctx context.Context, qc QuestionContext) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("cerebras api key missing")
	}

	messages := []chatMessage{
		{Role: "system", Content: systemPrompt(qc)},
		{Role: "user", Content: buildPrompt(qc)},
	}

	reqBody, _ := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: messages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	question := firstLine(cr.Choices[0].Message.Content)
	if question == "" {
		return "", fmt.Errorf("cerebras: empty question")
	}
	return question, nil
}

func systemPrompt(qc QuestionContext) string {
	role := qc.JobTitle
	if role == "" {
		role = "the advertised position"
	}
	return fmt.Sprintf("You are a professional interviewer screening a candidate for %s. "+
		"Ask exactly one concise spoken-style interview question. "+
		"Do not greet, number the question, or add commentary.", role)
}

func buildPrompt(qc QuestionContext) string {
	var b strings.Builder
	for _, t := range qc.PriorTurns {
		b.WriteString("[QUESTION] ")
		b.WriteString(t.Question)
		b.WriteString("\n[ANSWER] ")
		if t.Answer == "" {
			b.WriteString("(no answer captured)")
		} else {
			b.WriteString(t.Answer)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Ask question number %d.", qc.TurnNumber)
	return b.String()
}

// firstLine trims the reply to the first non-empty line so a chatty
// model still yields a single question.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
