// Package recommend implements the reply generator on top of the OpenAI chat
// API. It produces drafts for operators to review, never messages that reach
// the visitor directly.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"support-desk-backend/internal/model"
	"support-desk-backend/internal/service/escalation"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type gptDraft struct {
	Reply      string  `json:"reply"`
	Confidence float64 `json:"confidence"`
}

type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewOpenAIGenerator(apiKey, model string, maxTokens int, temperature float64, logger *zap.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Propose asks the model for a suggested operator reply to the conversation
// so far. The model answers with a JSON object carrying the reply text and
// its own confidence estimate.
func (g *OpenAIGenerator) Propose(ctx context.Context, conv model.ConversationItem, history []model.MessageItem) (escalation.Draft, error) {
	prompt := fmt.Sprintf(`You are assisting a customer support operator. Read the
conversation transcript and propose one reply the operator could send next.

Return the response as a JSON object with this structure:
{
    "reply": "suggested reply text",
    "confidence": 0.0
}

confidence is your own estimate between 0 and 1 of how likely the reply
resolves the visitor's question.

Transcript:
%s`, transcript(history))

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   g.maxTokens,
			Temperature: float32(g.temperature),
		},
	)
	if err != nil {
		return escalation.Draft{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return escalation.Draft{}, fmt.Errorf("chat completion returned no choices")
	}

	response := strings.TrimSpace(resp.Choices[0].Message.Content)
	var draft gptDraft
	if err := json.Unmarshal([]byte(response), &draft); err != nil {
		g.logger.Warn("failed to parse model response",
			zap.Error(err),
			zap.String("conversationId", conv.ConversationID),
		)
		return escalation.Draft{}, fmt.Errorf("parse model response: %w", err)
	}

	if draft.Confidence < 0 {
		draft.Confidence = 0
	}
	if draft.Confidence > 1 {
		draft.Confidence = 1
	}

	return escalation.Draft{
		Content:    strings.TrimSpace(draft.Reply),
		Confidence: draft.Confidence,
	}, nil
}

func transcript(history []model.MessageItem) string {
	var b strings.Builder
	for _, message := range history {
		switch message.Type {
		case model.MessageTypeRecommendation:
			continue
		case model.MessageTypeUser:
			b.WriteString("Visitor: ")
		case model.MessageTypeAssistant:
			b.WriteString("Assistant: ")
		case model.MessageTypeAdmin:
			b.WriteString("Operator: ")
		default:
			b.WriteString("System: ")
		}
		b.WriteString(message.Body)
		b.WriteString("\n")
	}
	return b.String()
}
