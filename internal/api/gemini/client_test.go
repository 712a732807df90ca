package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openderm/diagnosis-api/internal/testutil"
)

func testRequest() *GenerateContentRequest {
	return &GenerateContentRequest{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: "Describe the lesion in this image."}},
		}},
		GenerationConfig: &GenerationConfig{
			Temperature:      0.01,
			MaxOutputTokens:  1000,
			ResponseMIMEType: "text/plain",
		},
	}
}

func TestGenerateContent_Replay(t *testing.T) {
	r, cleanup := testutil.NewVCRRecorder(t, "generate_content")
	defer cleanup()

	client := NewClient(WithHTTPClient(testutil.VCRHTTPClient(r)))

	resp, err := client.GenerateContent(context.Background(), "gemini-2.0-flash", "test-key", testRequest())
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}

	text, err := resp.Text()
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if !strings.Contains(text, "erythematous plaque") {
		t.Errorf("Text() = %q, want lesion description", text)
	}
	if resp.UsageMetadata == nil || resp.UsageMetadata.TotalTokenCount != 309 {
		t.Errorf("unexpected usage metadata: %+v", resp.UsageMetadata)
	}
}

func TestGenerateContent_KeyTravelsInHeaderOnly(t *testing.T) {
	var gotHeader, gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-goog-api-key")
		gotURL = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}],"role":"model"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), "gemini-2.0-flash", "secret-api-key", testRequest())
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}

	if gotHeader != "secret-api-key" {
		t.Errorf("x-goog-api-key = %q, want secret-api-key", gotHeader)
	}
	if strings.Contains(gotURL, "secret-api-key") {
		t.Errorf("URL %q contains the API key", gotURL)
	}
	if !strings.Contains(gotURL, "/v1beta/models/gemini-2.0-flash:generateContent") {
		t.Errorf("unexpected request URL: %q", gotURL)
	}
}

func TestGenerateContent_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), "gemini-2.0-flash", "k", testRequest())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GenerateContent() error = %v, want *APIError", err)
	}
	if apiErr.Code != 429 || apiErr.Status != "RESOURCE_EXHAUSTED" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestGenerateContent_NonEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), "gemini-2.0-flash", "k", testRequest())
	if err == nil {
		t.Fatal("GenerateContent() expected error")
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error = %v, want status 502 mention", err)
	}
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		name    string
		resp    GenerateContentResponse
		want    string
		wantErr bool
	}{
		{
			name: "concatenates text parts",
			resp: GenerateContentResponse{Candidates: []Candidate{{
				Content: Content{Parts: []Part{{Text: "hello "}, {Text: "world"}}},
			}}},
			want: "hello world",
		},
		{
			name:    "no candidates",
			resp:    GenerateContentResponse{},
			wantErr: true,
		},
		{
			name: "candidate without text",
			resp: GenerateContentResponse{Candidates: []Candidate{{
				Content: Content{Parts: []Part{{InlineData: &Blob{MIMEType: "image/png", Data: "aGk="}}}},
			}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.resp.Text()
			if tt.wantErr {
				if err == nil {
					t.Error("Text() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Text() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}
