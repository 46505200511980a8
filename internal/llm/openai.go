package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat
// completion APIs, including Azure OpenAI deployments. Azure mode uses
// the api-key header and an api-version query parameter against the
// deployments path; plain mode uses bearer auth against
// /chat/completions.
type OpenAIProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	apiVersion string // non-empty selects Azure mode
	httpClient *http.Client
}

// NewOpenAICompat creates a provider for a plain OpenAI-compatible API.
func NewOpenAICompat(name, baseURL, apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewAzureOpenAI creates a provider for an Azure OpenAI deployment.
// model is the deployment name.
func NewAzureOpenAI(baseURL, apiKey, model, apiVersion string) *OpenAIProvider {
	p := NewOpenAICompat("azure", baseURL, apiKey, model)
	p.apiVersion = apiVersion
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	body := map[string]any{
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	var url string
	if p.apiVersion != "" {
		// Azure routes by deployment name, not by a model field.
		url = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			p.baseURL, model, p.apiVersion)
	} else {
		body["model"] = model
		url = p.baseURL + "/chat/completions"
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiVersion != "" {
		httpReq.Header.Set("api-key", p.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{
			Message:  fmt.Sprintf("http request: %v", err),
			Provider: p.name,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)),
			StatusCode: resp.StatusCode,
			Provider:   p.name,
		}
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Model string `json:"model"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, &ProviderError{
			Message:  fmt.Sprintf("parse response: %v", err),
			Provider: p.name,
		}
	}
	if len(oaiResp.Choices) == 0 {
		return nil, &ProviderError{
			Message:  "response contained no choices",
			Provider: p.name,
		}
	}

	return &CompletionResponse{
		Content:      oaiResp.Choices[0].Message.Content,
		Model:        oaiResp.Model,
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
	}, nil
}
