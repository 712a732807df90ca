// Package diagnosis implements the dermatology consultation flows on top of
// the credential/model fallback dispatcher.
package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openderm/diagnosis-api/internal/api/gemini"
	"github.com/openderm/diagnosis-api/internal/llm"
	"github.com/openderm/diagnosis-api/internal/storage"
	"github.com/openderm/diagnosis-api/internal/tokens"
)

// Sampling parameters recovered from the established service behavior.
const (
	describeTemperature = 0.01
	reasoningMaxTokens  = 10000

	parseRetries = 3
)

var (
	// ErrEmptyQuery is returned when a request carries neither text nor image.
	ErrEmptyQuery = errors.New("diagnosis: text or image is required")

	// ErrEmptyMessage is returned when a chat request has no message.
	ErrEmptyMessage = errors.New("diagnosis: message is required")

	// ErrPromptTooLong is returned when input exceeds the prompt token budget.
	ErrPromptTooLong = errors.New("diagnosis: prompt exceeds token budget")
)

// QueryType classifies what a free-text question is asking for.
type QueryType string

const (
	QueryTypeDiseaseTreatments QueryType = "disease_treatments"
	QueryTypeDiseaseSymptoms   QueryType = "disease_symptoms"
	QueryTypeDiseaseCauses     QueryType = "disease_causes"
	QueryTypeDiseasesByAnatomy QueryType = "diseases_by_anatomy"
	QueryTypeDiseasesBySymptom QueryType = "diseases_by_symptom"
	QueryTypeSimilarDiseases   QueryType = "similar_diseases"
	QueryTypeUnknown           QueryType = "unknown"
)

var knownQueryTypes = map[QueryType]bool{
	QueryTypeDiseaseTreatments: true,
	QueryTypeDiseaseSymptoms:   true,
	QueryTypeDiseaseCauses:     true,
	QueryTypeDiseasesByAnatomy: true,
	QueryTypeDiseasesBySymptom: true,
	QueryTypeSimilarDiseases:   true,
}

// Invoker runs one prepared request through the fallback loop.
// *llm.Dispatcher satisfies it.
type Invoker interface {
	Do(ctx context.Context, fn llm.RequestFunc) (string, error)
	DoWithModel(ctx context.Context, fn llm.RequestFunc, model string) (string, error)
}

// Config carries the service dependencies.
type Config struct {
	Client          *gemini.Client
	Invoker         Invoker
	Store           storage.RecordStore
	Estimator       *tokens.Estimator
	MaxPromptTokens int
	Logger          *slog.Logger
}

// Service answers diagnosis requests.
type Service struct {
	client          *gemini.Client
	invoker         Invoker
	store           storage.RecordStore
	estimator       *tokens.Estimator
	maxPromptTokens int
	logger          *slog.Logger
}

// NewService creates a diagnosis service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:          cfg.Client,
		invoker:         cfg.Invoker,
		store:           cfg.Store,
		estimator:       cfg.Estimator,
		maxPromptTokens: cfg.MaxPromptTokens,
		logger:          logger,
	}
}

// Describe returns an observational description of a lesion image. It never
// diagnoses; the description feeds keyword extraction and the final
// reasoning step.
func (s *Service) Describe(ctx context.Context, imageBase64, mimeType string) (string, error) {
	fn := llm.Image(s.client, llm.ImagePrompt{
		System:      describeSystemPrompt,
		User:        describeUserPrompt,
		ImageBase64: imageBase64,
		MIMEType:    mimeType,
		Temperature: describeTemperature,
	})
	return s.invoker.Do(ctx, fn)
}

// ScoreLabels asks the model to assign probabilities to candidate disease
// labels for an image.
func (s *Service) ScoreLabels(ctx context.Context, imageBase64, mimeType string, labels []string) ([]LabelScore, error) {
	fn := llm.Image(s.client, llm.ImagePrompt{
		System:      scoreLabelsSystemPrompt,
		User:        fmt.Sprintf(scoreLabelsUserPrompt, strings.Join(labels, ", ")),
		ImageBase64: imageBase64,
		MIMEType:    mimeType,
		Temperature: describeTemperature,
	})
	raw, err := s.invoker.Do(ctx, fn)
	if err != nil {
		return nil, err
	}
	return parseLabelScores(raw)
}

// ExtractKeywords pulls clinical keywords out of free text. Replies that
// cannot be parsed are retried a few times; after that the extraction is
// treated as best effort and an empty list is returned.
func (s *Service) ExtractKeywords(ctx context.Context, text string) ([]string, error) {
	fn := llm.Text(s.client, llm.TextPrompt{
		System: keywordsSystemPrompt,
		User:   fmt.Sprintf(keywordsUserPrompt, text),
	})

	for attempt := 1; attempt <= parseRetries; attempt++ {
		raw, err := s.invoker.Do(ctx, fn)
		if err != nil {
			return nil, err
		}
		keywords, err := parseKeywords(raw)
		if err == nil {
			return keywords, nil
		}
		s.logger.Warn("failed to parse keyword reply",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return []string{}, nil
}

// ClassifyQuery maps a question onto a QueryType. Unrecognized replies are
// retried; when every attempt produces garbage the query type is unknown.
func (s *Service) ClassifyQuery(ctx context.Context, text string) (QueryType, error) {
	fn := llm.Text(s.client, llm.TextPrompt{
		System: classifySystemPrompt,
		User:   fmt.Sprintf(classifyUserPrompt, text),
	})

	for attempt := 1; attempt <= parseRetries; attempt++ {
		raw, err := s.invoker.Do(ctx, fn)
		if err != nil {
			return "", err
		}
		qt := QueryType(strings.Trim(strings.TrimSpace(raw), `"'`))
		if knownQueryTypes[qt] {
			return qt, nil
		}
		s.logger.Warn("unrecognized query type reply",
			slog.Int("attempt", attempt),
			slog.String("reply", raw))
	}
	return QueryTypeUnknown, nil
}

// AnalyzeRequest is one diagnosis request. At least one of Text and
// ImageBase64 must be set. CandidateLabels, when present alongside an image,
// are scored and fed into the reasoning step.
type AnalyzeRequest struct {
	Text            string
	ImageBase64     string
	MIMEType        string
	CandidateLabels []string
}

// AnalyzeResult is the outcome of one diagnosis request.
type AnalyzeResult struct {
	RecordID string       `json:"record_id,omitempty"`
	Keywords []string     `json:"keywords,omitempty"`
	Labels   []LabelScore `json:"labels,omitempty"`
	Response string       `json:"response"`
}

// Analyze runs the end-to-end diagnosis flow: describe the image when one is
// present, extract keywords, score candidate labels, then produce the final
// assessment. The completed interaction is persisted.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	if req.Text == "" && req.ImageBase64 == "" {
		return nil, ErrEmptyQuery
	}
	if err := s.checkBudget(req.Text); err != nil {
		return nil, err
	}
	start := time.Now()

	var caption string
	if req.ImageBase64 != "" {
		var err error
		caption, err = s.Describe(ctx, req.ImageBase64, req.MIMEType)
		if err != nil {
			return nil, fmt.Errorf("failed to describe image: %w", err)
		}
		s.logger.Debug("image described", slog.Int("caption_length", len(caption)))
	}

	source := strings.TrimSpace(req.Text + "\n" + caption)
	keywords, err := s.ExtractKeywords(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to extract keywords: %w", err)
	}

	var scores []LabelScore
	if req.ImageBase64 != "" && len(req.CandidateLabels) > 0 {
		scores, err = s.ScoreLabels(ctx, req.ImageBase64, req.MIMEType, req.CandidateLabels)
		if err != nil {
			var exhausted *llm.ExhaustedError
			if errors.As(err, &exhausted) {
				return nil, fmt.Errorf("failed to score labels: %w", err)
			}
			// A malformed scoring reply degrades the context but the
			// assessment can still proceed.
			s.logger.Warn("label scoring failed", slog.String("error", err.Error()))
			scores = nil
		}
	}

	userPrompt := reasoningUserPrompt(req.Text, caption, keywords, scores)

	var response string
	if req.ImageBase64 != "" {
		response, err = s.invoker.Do(ctx, llm.Image(s.client, llm.ImagePrompt{
			System:      reasoningSystemPrompt,
			User:        userPrompt,
			ImageBase64: req.ImageBase64,
			MIMEType:    req.MIMEType,
			Temperature: describeTemperature,
			MaxTokens:   reasoningMaxTokens,
		}))
	} else {
		response, err = s.invoker.Do(ctx, llm.Text(s.client, llm.TextPrompt{
			System:    reasoningSystemPrompt,
			User:      userPrompt,
			MaxTokens: reasoningMaxTokens,
		}))
	}
	if err != nil {
		return nil, err
	}

	result := &AnalyzeResult{
		Keywords: keywords,
		Labels:   scores,
		Response: response,
	}

	record := &storage.Record{
		ID:        uuid.New().String(),
		QueryText: req.Text,
		HasImage:  req.ImageBase64 != "",
		Labels:    recordLabels(keywords, scores),
		Response:  response,
		Duration:  time.Since(start),
	}
	if err := s.store.SaveRecord(ctx, record); err != nil {
		// The assessment already succeeded; losing the record is not
		// worth failing the request over.
		s.logger.Error("failed to persist diagnosis record",
			slog.String("record_id", record.ID),
			slog.String("error", err.Error()))
		return result, nil
	}
	result.RecordID = record.ID
	return result, nil
}

// ChatRequest is one follow-up turn over a prior diagnosis.
type ChatRequest struct {
	History []llm.ChatTurn
	Message string
}

// Chat answers a follow-up question in the context of earlier turns.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if req.Message == "" {
		return "", ErrEmptyMessage
	}
	if err := s.checkBudget(req.Message); err != nil {
		return "", err
	}

	history := make([]llm.ChatTurn, 0, len(req.History)+1)
	history = append(history, req.History...)
	history = append(history, llm.ChatTurn{Role: "user", Text: req.Message})

	return s.invoker.Do(ctx, llm.Chat(s.client, llm.ChatPrompt{
		System:  chatSystemPrompt,
		History: history,
	}))
}

func (s *Service) checkBudget(text string) error {
	if s.estimator == nil || text == "" {
		return nil
	}
	if err := s.estimator.CheckBudget(text, s.maxPromptTokens); err != nil {
		return fmt.Errorf("%w: %v", ErrPromptTooLong, err)
	}
	return nil
}

func recordLabels(keywords []string, scores []LabelScore) []string {
	if len(scores) == 0 {
		if len(keywords) == 0 {
			return nil
		}
		return keywords
	}
	labels := make([]string, len(scores))
	for i, score := range scores {
		labels[i] = score.Label
	}
	return labels
}

// reasoningUserPrompt assembles the final assessment prompt from everything
// gathered about the case.
func reasoningUserPrompt(text, caption string, keywords []string, scores []LabelScore) string {
	var b strings.Builder
	b.WriteString("The patient presents as follows:\n")
	if text != "" {
		b.WriteString("Symptoms described in text:\n")
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	if caption != "" {
		b.WriteString("Observations from the attached image:\n")
		b.WriteString(caption)
		b.WriteString("\n\n")
	}
	if len(keywords) > 0 {
		b.WriteString("Extracted clinical keywords: ")
		b.WriteString(strings.Join(keywords, ", "))
		b.WriteString("\n\n")
	}
	if len(scores) > 0 {
		b.WriteString("Candidate conditions with estimated probabilities:\n")
		for _, score := range scores {
			fmt.Fprintf(&b, "- %s: %.2f\n", score.Label, score.Probability)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Review each piece of data and conclude which conditions the patient may have.
Provide your assessment based on the data, then restate the final list of likely conditions.
Answer in this format:

**Reasoning:** <your reasoning about the patient>
**Assessment:** <list of conditions the patient may have>`)
	return b.String()
}
