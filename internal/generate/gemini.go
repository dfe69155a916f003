package generate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.0-flash"
	geminiTimeout        = 60 * time.Second
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// GeminiClient calls the generateContent endpoint. The API key travels as a
// query parameter, so errors returned here never include the request URL.
type GeminiClient struct {
	httpClient *resty.Client
	model      string
}

func NewGeminiClient(baseURL, model string) *GeminiClient {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "Docforge-API/1.0").
		SetTimeout(geminiTimeout)

	return &GeminiClient{httpClient: httpClient, model: model}
}

func (c *GeminiClient) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.7,
			TopP:            0.9,
			MaxOutputTokens: 2048,
		},
	}

	var resp geminiResponse
	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("key", apiKey).
		SetBody(body).
		SetResult(&resp).
		Post("/v1beta/models/" + c.model + ":generateContent")
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return "", fmt.Errorf("%w: gemini request: %v", ErrGenerationFailed, err)
	}
	if httpResp.IsError() {
		return "", fmt.Errorf("%w: gemini status %d", ErrGenerationFailed, httpResp.StatusCode())
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrGenerationFailed)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
