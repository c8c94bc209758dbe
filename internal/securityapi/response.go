package securityapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/courier-hub/courier_admin/internal/security"
)

// APIError is a refusal from the backend: a 4xx status, or a 2xx body with
// "success": false. Expired is set for a 401 on a call made with a bearer
// token, meaning the token itself is no longer accepted.
type APIError struct {
	StatusCode int
	Message    string
	Expired    bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected request (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("backend rejected request (status %d): %s", e.StatusCode, e.Message)
}

// UserMessage is the backend's own explanation, safe to show to the user.
func (e *APIError) UserMessage() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	if e.Expired {
		return security.ErrUnauthenticated
	}
	return security.ErrRejected
}

// envelope is the optional wrapper some backend endpoints use.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func decodeResponse(status int, path string, authed bool, raw []byte, out any) error {
	raw = bytes.TrimSpace(raw)

	var env envelope
	isObject := len(raw) > 0 && raw[0] == '{'
	if isObject {
		// A body that is not an envelope simply leaves env empty.
		_ = json.Unmarshal(raw, &env)
	}
	msg := env.Message
	if env.Error != "" {
		msg = env.Error
	}

	switch {
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s returned status %d", security.ErrTransport, path, status)
	case status == http.StatusUnauthorized && authed:
		return &APIError{StatusCode: status, Message: msg, Expired: true}
	case status >= http.StatusBadRequest:
		return &APIError{StatusCode: status, Message: msg}
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return fmt.Errorf("%w: %s returned unexpected status %d", security.ErrTransport, path, status)
	}
	if env.Success != nil && !*env.Success {
		return &APIError{StatusCode: status, Message: msg}
	}

	if out == nil {
		return nil
	}
	payload := raw
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		payload = env.Data
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: %s returned an empty body", security.ErrTransport, path)
	}
	if rm, ok := out.(*json.RawMessage); ok {
		*rm = append((*rm)[:0], payload...)
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", security.ErrTransport, path, err)
	}
	return nil
}
