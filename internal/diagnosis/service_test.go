package diagnosis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/openderm/diagnosis-api/internal/llm"
	"github.com/openderm/diagnosis-api/internal/storage"
	"github.com/openderm/diagnosis-api/internal/tokens"
)

// fakeInvoker replays canned replies without touching the network. The
// prepared request functions are never invoked.
type fakeInvoker struct {
	replies []string
	errs    []error
	calls   int
}

func (f *fakeInvoker) Do(ctx context.Context, fn llm.RequestFunc) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "", errors.New("fakeInvoker: no reply prepared")
}

func (f *fakeInvoker) DoWithModel(ctx context.Context, fn llm.RequestFunc, model string) (string, error) {
	return f.Do(ctx, fn)
}

type memStore struct {
	records []*storage.Record
	saveErr error
}

func (m *memStore) SaveRecord(ctx context.Context, record *storage.Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memStore) GetRecord(ctx context.Context, id string) (*storage.Record, error) {
	for _, record := range m.records {
		if record.ID == id {
			return record, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListRecords(ctx context.Context, opts storage.ListOptions) ([]*storage.Record, error) {
	return m.records, nil
}

func (m *memStore) Close() error { return nil }

func newTestService(invoker Invoker, store storage.RecordStore) *Service {
	if store == nil {
		store = &memStore{}
	}
	return NewService(Config{
		Invoker: invoker,
		Store:   store,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestExtractKeywords_RetriesOnParseFailure(t *testing.T) {
	invoker := &fakeInvoker{replies: []string{
		"I think the keywords are rash and arm.",
		"```json\n[\"rash\", \"arm\"]\n```",
	}}
	svc := newTestService(invoker, nil)

	got, err := svc.ExtractKeywords(context.Background(), "itchy rash on arm")
	if err != nil {
		t.Fatalf("ExtractKeywords() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"rash", "arm"}) {
		t.Errorf("keywords = %v, want [rash arm]", got)
	}
	if invoker.calls != 2 {
		t.Errorf("calls = %d, want 2", invoker.calls)
	}
}

func TestExtractKeywords_GivesUpAfterRetries(t *testing.T) {
	invoker := &fakeInvoker{replies: []string{"garbage", "garbage", "garbage"}}
	svc := newTestService(invoker, nil)

	got, err := svc.ExtractKeywords(context.Background(), "question")
	if err != nil {
		t.Fatalf("ExtractKeywords() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("keywords = %v, want empty", got)
	}
	if invoker.calls != parseRetries {
		t.Errorf("calls = %d, want %d", invoker.calls, parseRetries)
	}
}

func TestExtractKeywords_PropagatesDispatchFailure(t *testing.T) {
	invoker := &fakeInvoker{errs: []error{&llm.ExhaustedError{}}}
	svc := newTestService(invoker, nil)

	_, err := svc.ExtractKeywords(context.Background(), "question")
	var exhausted *llm.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Errorf("error = %v, want *llm.ExhaustedError", err)
	}
	if invoker.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on dispatch failure)", invoker.calls)
	}
}

func TestClassifyQuery(t *testing.T) {
	t.Run("trims quotes", func(t *testing.T) {
		invoker := &fakeInvoker{replies: []string{"\"disease_causes\"\n"}}
		svc := newTestService(invoker, nil)

		got, err := svc.ClassifyQuery(context.Background(), "what causes psoriasis?")
		if err != nil {
			t.Fatalf("ClassifyQuery() error = %v", err)
		}
		if got != QueryTypeDiseaseCauses {
			t.Errorf("query type = %q, want %q", got, QueryTypeDiseaseCauses)
		}
	})

	t.Run("unknown after retries", func(t *testing.T) {
		invoker := &fakeInvoker{replies: []string{"maybe", "dunno", "no idea"}}
		svc := newTestService(invoker, nil)

		got, err := svc.ClassifyQuery(context.Background(), "hello")
		if err != nil {
			t.Fatalf("ClassifyQuery() error = %v", err)
		}
		if got != QueryTypeUnknown {
			t.Errorf("query type = %q, want %q", got, QueryTypeUnknown)
		}
	})
}

func TestAnalyze_RequiresInput(t *testing.T) {
	svc := newTestService(&fakeInvoker{}, nil)

	_, err := svc.Analyze(context.Background(), AnalyzeRequest{})
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Analyze() error = %v, want ErrEmptyQuery", err)
	}
}

func TestAnalyze_TextOnly(t *testing.T) {
	invoker := &fakeInvoker{replies: []string{
		"```json\n[\"itchy rash\", \"forearm\"]\n```",
		"**Reasoning:** ...\n**Assessment:** eczema",
	}}
	store := &memStore{}
	svc := newTestService(invoker, store)

	result, err := svc.Analyze(context.Background(), AnalyzeRequest{Text: "itchy rash on my forearm"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if !strings.Contains(result.Response, "eczema") {
		t.Errorf("Response = %q, want assessment text", result.Response)
	}
	if !reflect.DeepEqual(result.Keywords, []string{"itchy rash", "forearm"}) {
		t.Errorf("Keywords = %v", result.Keywords)
	}
	if invoker.calls != 2 {
		t.Errorf("calls = %d, want 2 (keywords then assessment)", invoker.calls)
	}

	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	record := store.records[0]
	if result.RecordID != record.ID {
		t.Errorf("RecordID = %q, want %q", result.RecordID, record.ID)
	}
	if record.HasImage {
		t.Error("HasImage = true, want false")
	}
	if !reflect.DeepEqual(record.Labels, []string{"itchy rash", "forearm"}) {
		t.Errorf("record labels = %v", record.Labels)
	}
}

func TestAnalyze_ImageFlow(t *testing.T) {
	invoker := &fakeInvoker{replies: []string{
		"A well-demarcated erythematous plaque on the elbow.",
		"```json\n[\"erythematous plaque\", \"elbow\"]\n```",
		"```json\n[{\"label\": \"psoriasis\", \"probability\": 0.9}, {\"label\": \"eczema\", \"probability\": 0.1}]\n```",
		"**Reasoning:** ...\n**Assessment:** psoriasis",
	}}
	store := &memStore{}
	svc := newTestService(invoker, store)

	result, err := svc.Analyze(context.Background(), AnalyzeRequest{
		ImageBase64:     "aW1n",
		CandidateLabels: []string{"psoriasis", "eczema"},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if invoker.calls != 4 {
		t.Errorf("calls = %d, want 4 (describe, keywords, scores, assessment)", invoker.calls)
	}
	if len(result.Labels) != 2 || result.Labels[0].Label != "psoriasis" {
		t.Errorf("Labels = %v", result.Labels)
	}

	record := store.records[0]
	if !record.HasImage {
		t.Error("HasImage = false, want true")
	}
	if !reflect.DeepEqual(record.Labels, []string{"psoriasis", "eczema"}) {
		t.Errorf("record labels = %v, want scored label names", record.Labels)
	}
}

func TestAnalyze_MalformedScoresDegradeGracefully(t *testing.T) {
	invoker := &fakeInvoker{replies: []string{
		"caption",
		"```json\n[\"keyword\"]\n```",
		"the image probably shows psoriasis",
		"assessment",
	}}
	svc := newTestService(invoker, nil)

	result, err := svc.Analyze(context.Background(), AnalyzeRequest{
		ImageBase64:     "aW1n",
		CandidateLabels: []string{"psoriasis"},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if result.Labels != nil {
		t.Errorf("Labels = %v, want nil after malformed scoring reply", result.Labels)
	}
	if result.Response != "assessment" {
		t.Errorf("Response = %q, want assessment", result.Response)
	}
}

func TestAnalyze_PropagatesExhaustion(t *testing.T) {
	invoker := &fakeInvoker{errs: []error{&llm.ExhaustedError{}}}
	svc := newTestService(invoker, nil)

	_, err := svc.Analyze(context.Background(), AnalyzeRequest{Text: "question"})
	var exhausted *llm.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Errorf("Analyze() error = %v, want *llm.ExhaustedError", err)
	}
}

func TestAnalyze_SaveFailureStillReturnsResult(t *testing.T) {
	invoker := &fakeInvoker{replies: []string{
		"```json\n[]\n```",
		"assessment",
	}}
	store := &memStore{saveErr: errors.New("disk full")}
	svc := newTestService(invoker, store)

	result, err := svc.Analyze(context.Background(), AnalyzeRequest{Text: "question"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if result.RecordID != "" {
		t.Errorf("RecordID = %q, want empty when persistence fails", result.RecordID)
	}
	if result.Response != "assessment" {
		t.Errorf("Response = %q", result.Response)
	}
}

func TestAnalyze_PromptBudget(t *testing.T) {
	svc := NewService(Config{
		Invoker:         &fakeInvoker{},
		Store:           &memStore{},
		Estimator:       tokens.NewEstimator(),
		MaxPromptTokens: 10,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := svc.Analyze(context.Background(), AnalyzeRequest{
		Text: strings.Repeat("a very long description of symptoms ", 50),
	})
	if !errors.Is(err, ErrPromptTooLong) {
		t.Errorf("Analyze() error = %v, want ErrPromptTooLong", err)
	}
}

func TestChat(t *testing.T) {
	t.Run("requires message", func(t *testing.T) {
		svc := newTestService(&fakeInvoker{}, nil)
		_, err := svc.Chat(context.Background(), ChatRequest{})
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Chat() error = %v, want ErrEmptyMessage", err)
		}
	})

	t.Run("returns reply", func(t *testing.T) {
		invoker := &fakeInvoker{replies: []string{"Apply a moisturizer twice daily."}}
		svc := newTestService(invoker, nil)

		got, err := svc.Chat(context.Background(), ChatRequest{
			History: []llm.ChatTurn{
				{Role: "user", Text: "I have an itchy rash."},
				{Role: "assistant", Text: "It looks like mild eczema."},
			},
			Message: "What should I do about it?",
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if got != "Apply a moisturizer twice daily." {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("does not mutate caller history", func(t *testing.T) {
		invoker := &fakeInvoker{replies: []string{"ok"}}
		svc := newTestService(invoker, nil)

		history := make([]llm.ChatTurn, 1, 4)
		history[0] = llm.ChatTurn{Role: "user", Text: "hello"}

		if _, err := svc.Chat(context.Background(), ChatRequest{History: history, Message: "hi"}); err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if len(history) != 1 {
			t.Errorf("caller history length = %d, want 1", len(history))
		}
	})
}
