package llm

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

// ChatModelFactory builds an eino chat model for a model name.
type ChatModelFactory func(ctx context.Context, modelName string) (einomodel.BaseChatModel, error)

// ChatModelClient implements contract.ModelClient on eino chat models, building
// one model per distinct model name on first use.
type ChatModelClient struct {
	factory  ChatModelFactory
	defaults ModelDefaults

	mu     sync.Mutex
	models map[string]einomodel.BaseChatModel
}

var _ contractx.ModelClient = (*ChatModelClient)(nil)

var providerStatusPattern = regexp.MustCompile(`status code: (\d{3})`)

func NewChatModelClient(factory ChatModelFactory, defaults ModelDefaults) (*ChatModelClient, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: chat model factory is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(defaults.Model) == "" {
		return nil, fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return &ChatModelClient{
		factory:  factory,
		defaults: defaults,
		models:   make(map[string]einomodel.BaseChatModel, 4),
	}, nil
}

func (c *ChatModelClient) Complete(ctx context.Context, req contractx.CompletionRequest) (contractx.CompletionResponse, error) {
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = c.defaults.Model
	}

	chatModel, err := c.model(ctx, modelName)
	if err != nil {
		return contractx.CompletionResponse{}, err
	}

	opts := make([]einomodel.Option, 0, 2)
	if req.Temperature != nil {
		opts = append(opts, einomodel.WithTemperature(*req.Temperature))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.defaults.MaxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(maxTokens))
	}

	msg, err := chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(req.SystemPrompt),
		schema.UserMessage(req.UserPrompt),
	}, opts...)
	if err != nil {
		return contractx.CompletionResponse{}, withProviderStatus(err)
	}
	if msg == nil {
		return contractx.CompletionResponse{}, errEmptyCompletion
	}

	tokens := 0
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		tokens = msg.ResponseMeta.Usage.TotalTokens
	}
	return contractx.CompletionResponse{
		Text:       strings.TrimSpace(msg.Content),
		TokensUsed: tokens,
	}, nil
}

func (c *ChatModelClient) model(ctx context.Context, modelName string) (einomodel.BaseChatModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[modelName]; ok {
		return m, nil
	}
	m, err := c.factory(ctx, modelName)
	if err != nil {
		// Build failures are configuration errors and are not retried.
		return nil, &StatusError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("build chat model %s: %w", modelName, err)}
	}
	c.models[modelName] = m
	return m, nil
}

// withProviderStatus recovers the HTTP status the provider SDK only exposes in its message.
func withProviderStatus(err error) error {
	match := providerStatusPattern.FindStringSubmatch(err.Error())
	if len(match) != 2 {
		return err
	}
	code, convErr := strconv.Atoi(match[1])
	if convErr != nil {
		return err
	}
	return &StatusError{StatusCode: code, Err: err}
}
