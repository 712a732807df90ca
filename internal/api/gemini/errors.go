package gemini

import (
	"encoding/json"
	"fmt"
)

// ErrorResponse is the standard Google API error envelope.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError is a provider-reported failure.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API error %d (%s): %s", e.Code, e.Status, e.Message)
}

// ParseErrorResponse decodes a provider error body. It returns (nil, err)
// when the body is not the standard envelope.
func ParseErrorResponse(body []byte) (*APIError, error) {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Error == nil {
		return nil, fmt.Errorf("no error field in response")
	}
	return resp.Error, nil
}
