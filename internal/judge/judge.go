// Package judge wraps the external debate-analysis service. The room engine
// treats it as an opaque asynchronous call returning one textual verdict.
package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/clashroom/clashroom/internal/protocol"
)

// OpenAIJudge judges a finished debate with a single chat completion call.
type OpenAIJudge struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// Config holds judging service configuration.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// NewOpenAIJudge creates a judge backed by the OpenAI chat completion API.
func NewOpenAIJudge(cfg Config) *OpenAIJudge {
	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 500
	}
	return &OpenAIJudge{
		client:    openai.NewClient(cfg.APIKey),
		model:     model,
		maxTokens: maxTokens,
	}
}

// JudgeDebate analyzes the transcript and returns the verdict text. Audio
// messages contribute only their optional analysis string; the payload
// itself is never sent to the judge.
func (j *OpenAIJudge) JudgeDebate(ctx context.Context, topic string, transcript []protocol.Message) (string, error) {
	prompt := fmt.Sprintf(`You are an impartial debate judge.

Debate topic: %s

Transcript:
%s

Decide which participant argued more convincingly. Respond with a short
verdict naming the winner by display name and a one-sentence justification.`,
		topic,
		formatTranscript(transcript),
	)

	req := openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt,
			},
		},
		MaxTokens:   j.maxTokens,
		Temperature: 0.3,
	}

	resp, err := j.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to call judging service: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("judging service returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// formatTranscript renders the chat log for the judging prompt.
func formatTranscript(transcript []protocol.Message) string {
	var sb strings.Builder
	for _, m := range transcript {
		if m.IsVerdict() {
			continue
		}
		switch {
		case m.Text != "":
			sb.WriteString(fmt.Sprintf("[%s] %s: %s\n",
				m.Timestamp.Format("15:04:05"), m.AuthorName, m.Text))
		case m.Analysis != "":
			sb.WriteString(fmt.Sprintf("[%s] %s (audio): %s\n",
				m.Timestamp.Format("15:04:05"), m.AuthorName, m.Analysis))
		default:
			sb.WriteString(fmt.Sprintf("[%s] %s sent an audio argument\n",
				m.Timestamp.Format("15:04:05"), m.AuthorName))
		}
	}
	if sb.Len() == 0 {
		return "(no arguments were made)"
	}
	return sb.String()
}
