package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/tenantly/portal/backend/config"
	"github.com/tenantly/portal/backend/model"
)

// ErrAINotConfigured is returned when the endpoint for a call is not set.
var ErrAINotConfigured = errors.New("ai endpoint not configured")

// AIService talks to the externally hosted inference services: the image and
// request analysis API, a text-generation model and a translation model.
type AIService struct {
	config     *config.AIConfig
	httpClient *http.Client
}

// ImageFile is an attachment as sent to the image-understanding service.
type ImageFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// RequestAnalysis is the response of the summarization endpoint.
type RequestAnalysis struct {
	Summary      string        `json:"summary"`
	UrgencyLevel model.Urgency `json:"urgencyLevel"`
	Fallback     bool          `json:"fallback,omitempty"`
}

type analyzeRequestBody struct {
	UserText          string   `json:"userText"`
	ImageDescriptions []string `json:"imageDescriptions"`
}

type imageAnalysisResponse struct {
	Results []model.ImageAnalysis `json:"results"`
}

type generationRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type generatedText struct {
	GeneratedText string `json:"generated_text"`
}

type translationText struct {
	TranslationText string `json:"translation_text"`
}

func NewAIService(cfg *config.AIConfig) *AIService {
	return &AIService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.AITimeout(),
		},
	}
}

// AnalyzeImages sends the attachments as one multipart batch.
func (s *AIService) AnalyzeImages(ctx context.Context, files []ImageFile) ([]model.ImageAnalysis, error) {
	if s.config.AnalysisURL == "" {
		return nil, ErrAINotConfigured
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		h.Set("Content-Type", f.ContentType)
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write multipart part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("/analyze-multiple-images"), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result imageAnalysisResponse
	if err := s.do(req, &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, errors.New("image analysis returned no results")
	}
	return result.Results, nil
}

// AnalyzeRequest asks for a condensed summary and an urgency level.
func (s *AIService) AnalyzeRequest(ctx context.Context, userText string, imageDescriptions []string) (*RequestAnalysis, error) {
	if s.config.AnalysisURL == "" {
		return nil, ErrAINotConfigured
	}
	if imageDescriptions == nil {
		imageDescriptions = []string{}
	}

	var result RequestAnalysis
	err := s.postJSON(ctx, s.endpoint("/analyze-request"), analyzeRequestBody{
		UserText:          userText,
		ImageDescriptions: imageDescriptions,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateProcedure runs the text-generation model on prompt and returns the
// generated continuation only.
func (s *AIService) GenerateProcedure(ctx context.Context, prompt string) (string, error) {
	if s.config.ProcedureURL == "" {
		return "", ErrAINotConfigured
	}

	var raw json.RawMessage
	err := s.postJSON(ctx, s.config.ProcedureURL, generationRequest{
		Inputs: prompt,
		Parameters: map[string]any{
			"max_new_tokens":   400,
			"return_full_text": false,
		},
	}, &raw)
	if err != nil {
		return "", err
	}

	var text string
	var list []generatedText
	var single generatedText
	switch {
	case json.Unmarshal(raw, &list) == nil && len(list) > 0:
		text = list[0].GeneratedText
	case json.Unmarshal(raw, &single) == nil:
		text = single.GeneratedText
	}

	// some deployments echo the prompt regardless of return_full_text
	text = strings.TrimSpace(strings.TrimPrefix(text, prompt))
	if text == "" {
		return "", errors.New("procedure model returned no text")
	}
	return text, nil
}

// Translate translates a single piece of text.
func (s *AIService) Translate(ctx context.Context, text string) (string, error) {
	if s.config.TranslationURL == "" {
		return "", ErrAINotConfigured
	}

	var raw json.RawMessage
	if err := s.postJSON(ctx, s.config.TranslationURL, generationRequest{Inputs: text}, &raw); err != nil {
		return "", err
	}

	var translated string
	var list []translationText
	var single translationText
	switch {
	case json.Unmarshal(raw, &list) == nil && len(list) > 0:
		translated = list[0].TranslationText
	case json.Unmarshal(raw, &single) == nil:
		translated = single.TranslationText
	}

	translated = strings.TrimSpace(translated)
	if translated == "" {
		return "", errors.New("translation model returned no text")
	}
	return translated, nil
}

func (s *AIService) endpoint(path string) string {
	return strings.TrimRight(s.config.AnalysisURL, "/") + path
}

func (s *AIService) postJSON(ctx context.Context, url string, payload, out any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *AIService) do(req *http.Request, out any) error {
	if s.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	slog.DebugContext(req.Context(), "ai service response", "url", req.URL.String(), "status", resp.StatusCode, "bytes", len(body))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ai service returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, truncate(string(body), 200))
	}
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
