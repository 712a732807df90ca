package llm

import (
	"context"
	"fmt"

	"github.com/openderm/diagnosis-api/internal/api/gemini"
)

// Default sampling parameters per call shape, matching the service's
// established behavior: near-zero temperature everywhere, a short budget for
// single-turn calls and a longer one for chat.
const (
	defaultTextMaxTokens  = 1000
	defaultImageMaxTokens = 1000
	defaultChatMaxTokens  = 5000

	defaultImageMIMEType = "image/jpeg"
)

// TextPrompt is the payload of the plain-text call shape.
type TextPrompt struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// ImagePrompt is the payload of the image+text call shape. ImageBase64 is
// the raw base64 payload without a data: prefix.
type ImagePrompt struct {
	System      string
	User        string
	ImageBase64 string
	MIMEType    string
	Temperature float32
	MaxTokens   int
}

// ChatTurn is one prior turn of a conversation. Role follows the common
// user/assistant convention and is mapped to Gemini's user/model roles.
type ChatTurn struct {
	Role        string
	Text        string
	ImageBase64 string
	MIMEType    string
}

// ChatPrompt is the payload of the multi-turn call shape.
type ChatPrompt struct {
	System      string
	History     []ChatTurn
	Temperature float32
	MaxTokens   int
}

// Text binds a plain-text prompt to the dispatcher's request signature.
func Text(client *gemini.Client, p TextPrompt) RequestFunc {
	return func(ctx context.Context, model, credential string) (string, error) {
		req := &gemini.GenerateContentRequest{
			Contents: []gemini.Content{{
				Role:  "user",
				Parts: []gemini.Part{{Text: p.User}},
			}},
			SystemInstruction: systemContent(p.System),
			GenerationConfig:  generationConfig(p.Temperature, p.MaxTokens, defaultTextMaxTokens),
		}
		resp, err := client.GenerateContent(ctx, model, credential, req)
		if err != nil {
			return "", err
		}
		return resp.Text()
	}
}

// Image binds an image+text prompt to the dispatcher's request signature.
func Image(client *gemini.Client, p ImagePrompt) RequestFunc {
	mimeType := p.MIMEType
	if mimeType == "" {
		mimeType = defaultImageMIMEType
	}
	return func(ctx context.Context, model, credential string) (string, error) {
		req := &gemini.GenerateContentRequest{
			Contents: []gemini.Content{{
				Role: "user",
				Parts: []gemini.Part{
					{InlineData: &gemini.Blob{MIMEType: mimeType, Data: p.ImageBase64}},
					{Text: p.User},
				},
			}},
			SystemInstruction: systemContent(p.System),
			GenerationConfig:  generationConfig(p.Temperature, p.MaxTokens, defaultImageMaxTokens),
		}
		resp, err := client.GenerateContent(ctx, model, credential, req)
		if err != nil {
			return "", err
		}
		return resp.Text()
	}
}

// Chat binds a multi-turn conversation to the dispatcher's request
// signature. History turns with an unknown role are rejected before any
// network attempt is made.
func Chat(client *gemini.Client, p ChatPrompt) RequestFunc {
	contents, convErr := historyToContents(p.History)
	return func(ctx context.Context, model, credential string) (string, error) {
		if convErr != nil {
			return "", convErr
		}
		req := &gemini.GenerateContentRequest{
			Contents:          contents,
			SystemInstruction: systemContent(p.System),
			GenerationConfig:  generationConfig(p.Temperature, p.MaxTokens, defaultChatMaxTokens),
		}
		resp, err := client.GenerateContent(ctx, model, credential, req)
		if err != nil {
			return "", err
		}
		return resp.Text()
	}
}

// historyToContents maps user/assistant turns onto Gemini wire contents.
func historyToContents(history []ChatTurn) ([]gemini.Content, error) {
	contents := make([]gemini.Content, 0, len(history))
	for i, turn := range history {
		var role string
		switch turn.Role {
		case "user":
			role = "user"
		case "assistant":
			role = "model"
		default:
			return nil, fmt.Errorf("history turn %d: unsupported role %q", i, turn.Role)
		}

		var parts []gemini.Part
		if turn.Text != "" {
			parts = append(parts, gemini.Part{Text: turn.Text})
		}
		if turn.ImageBase64 != "" {
			mimeType := turn.MIMEType
			if mimeType == "" {
				mimeType = defaultImageMIMEType
			}
			parts = append(parts, gemini.Part{InlineData: &gemini.Blob{MIMEType: mimeType, Data: turn.ImageBase64}})
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("history turn %d: empty content", i)
		}
		contents = append(contents, gemini.Content{Role: role, Parts: parts})
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("chat history is empty")
	}
	return contents, nil
}

func systemContent(system string) *gemini.Content {
	if system == "" {
		return nil
	}
	return &gemini.Content{Parts: []gemini.Part{{Text: system}}}
}

func generationConfig(temperature float32, maxTokens, defaultMax int) *gemini.GenerationConfig {
	if maxTokens <= 0 {
		maxTokens = defaultMax
	}
	return &gemini.GenerationConfig{
		Temperature:      temperature,
		MaxOutputTokens:  maxTokens,
		ResponseMIMEType: "text/plain",
	}
}
