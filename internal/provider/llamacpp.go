package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LlamaCppProvider implements Generator against a llama.cpp server's
// /completion endpoint. The prompt option is expanded and sent verbatim.
type LlamaCppProvider struct {
	apiBase     string
	nPredict    int
	temperature float64
	httpClient  *http.Client
}

// NewLlamaCppProvider creates a provider for the llama.cpp server at apiBase.
func NewLlamaCppProvider(apiBase string, nPredict int, temperature float64) *LlamaCppProvider {
	if apiBase == "" {
		apiBase = "http://127.0.0.1:8080"
	}
	return &LlamaCppProvider{
		apiBase:     strings.TrimSuffix(apiBase, "/"),
		nPredict:    nPredict,
		temperature: temperature,
		httpClient: &http.Client{
			// Local models on modest hardware are slow.
			Timeout: 10 * time.Minute,
		},
	}
}

type llamaCompletionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type llamaCompletionResponse struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (p *LlamaCppProvider) Generate(ctx context.Context, inputs map[string]any) (string, error) {
	prompt, err := promptOption(inputs, "prompt")
	if err != nil {
		return "", err
	}
	if prompt == "" {
		return "", errors.New("llama.cpp: prompt option not set")
	}

	body := llamaCompletionRequest{Prompt: prompt, NPredict: p.nPredict, Temperature: p.temperature}
	if v, ok := numberOption(inputs, "max_tokens"); ok {
		body.NPredict = int(v)
	}
	if v, ok := numberOption(inputs, "temperature"); ok {
		body.Temperature = v
	}
	if stops, ok := inputs["stop"].([]any); ok {
		for _, s := range stops {
			if str, ok := s.(string); ok {
				body.Stop = append(body.Stop, str)
			}
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/completion", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llama.cpp error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out llamaCompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return out.Content, nil
}
