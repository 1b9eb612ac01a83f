package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

type chatCompletions interface {
	New(ctx context.Context, body openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
}

// CompletionClient implements contract.ModelClient on the OpenAI SDK chat API.
type CompletionClient struct {
	completions chatCompletions
	defaults    ModelDefaults
}

var _ contractx.ModelClient = (*CompletionClient)(nil)

func NewCompletionClient(client *openaisdk.Client, defaults ModelDefaults) (*CompletionClient, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(defaults.Model) == "" {
		return nil, fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return &CompletionClient{
		completions: &client.Chat.Completions,
		defaults:    defaults,
	}, nil
}

func (c *CompletionClient) Complete(ctx context.Context, req contractx.CompletionRequest) (contractx.CompletionResponse, error) {
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = c.defaults.Model
	}

	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(modelName),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(req.SystemPrompt),
			openaisdk.UserMessage(req.UserPrompt),
		},
	}
	if req.Temperature != nil {
		params.Temperature = openaisdk.Float(float64(*req.Temperature))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.defaults.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(maxTokens))
	}

	resp, err := c.completions.New(ctx, params)
	if err != nil {
		var apiErr *openaisdk.Error
		if errors.As(err, &apiErr) {
			return contractx.CompletionResponse{}, &StatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return contractx.CompletionResponse{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return contractx.CompletionResponse{}, errEmptyCompletion
	}

	return contractx.CompletionResponse{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}
