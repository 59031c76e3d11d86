package jobs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// UploadError is a failed upload. Its message is already classified for
// display.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	return ClassifyUploadFailure(e.StatusCode, e.Message)
}

// RequestError is a non-2xx answer from the execution endpoint.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return "API request failed: " + e.Message
}

// ClassifyUploadFailure maps an upload failure to a user-facing message.
func ClassifyUploadFailure(status int, message string) string {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusRequestEntityTooLarge,
		strings.Contains(lower, "too large"),
		strings.Contains(lower, "size"),
		strings.Contains(message, "FUNCTION_PAYLOAD_TOO_LARGE"),
		strings.Contains(message, "Request Entity Too Large"):
		return "Image is too large. Try reducing the image size or dimensions."
	case status == http.StatusUnsupportedMediaType,
		strings.Contains(lower, "format"),
		strings.Contains(lower, "type"):
		return "Unsupported image format. Please use PNG, JPG, or WebP."
	case status >= 500:
		return "Server error during upload. Please try again later."
	default:
		return fmt.Sprintf("Upload failed: %s. Check your connection and try again.", message)
	}
}

// serverMessage returns the "error" field of a JSON body, or the raw text.
func serverMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(body)
}

var pythonClass = regexp.MustCompile(`<class '(\w+)'>`)

// ProcessErrorMessage shortens an error reported by a worker. Strings holding
// a JSON object with error_message become "<error_type>: <error_message>";
// structured errors yield their error or message field.
func ProcessErrorMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return "Unknown error"
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(e), &parsed); err != nil || parsed == nil {
			return e
		}
		if msg, ok := parsed["error_message"]; ok && truthy(msg) {
			kind := "Error"
			if t, ok := parsed["error_type"].(string); ok && t != "" {
				kind = replaceFirst(pythonClass, t)
			}
			return fmt.Sprintf("%s: %v", kind, msg)
		}
		if msg, ok := parsed["error"]; ok && truthy(msg) {
			return fmt.Sprint(msg)
		}
		return e
	case error:
		return ProcessErrorMessage(e.Error())
	case map[string]any:
		for _, key := range []string{"error", "message"} {
			if msg, ok := e[key]; ok && truthy(msg) {
				return fmt.Sprint(msg)
			}
		}
	}
	return "Unknown error"
}

func replaceFirst(re *regexp.Regexp, s string) string {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + s[loc[2]:loc[3]] + s[loc[1]:]
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	}
	return true
}
