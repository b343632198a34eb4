package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	// maxPromptBodyChars 限制送入模型的正文长度，
	// 控制 token 开销，对摘要质量影响可以忽略。
	maxPromptBodyChars = 12_000

	summaryTimeout = 30 * time.Second

	systemPrompt = "You are a helpful assistant that summarizes emails concisely. " +
		"Summarize the key points of the email in 2-3 short sentences. " +
		"Do not include greetings or signatures in the summary."
)

// OpenAISummarizer 通过 OpenAI Chat Completions 生成邮件摘要。
type OpenAISummarizer struct {
	client    *openai.Client
	model     string
	maxTokens int
	log       *zap.Logger
}

// OpenAIOptions 摘要器配置。
type OpenAIOptions struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewOpenAISummarizer 创建 OpenAI 摘要器。
func NewOpenAISummarizer(opts OpenAIOptions, log *zap.Logger) *OpenAISummarizer {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 300
	}
	return &OpenAISummarizer{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		log:       log,
	}
}

// Summarize 生成摘要。正文超长时先截取再送入模型。
func (s *OpenAISummarizer) Summarize(ctx context.Context, subject, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	runes := []rune(body)
	if len(runes) > maxPromptBodyChars {
		body = string(runes[:maxPromptBodyChars])
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Subject: %s\n\n%s", subject, body),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("chat completion returned empty summary")
	}

	s.log.Debug("email summarized",
		zap.String("model", s.model),
		zap.Int("summary_chars", len(summary)))
	return summary, nil
}
