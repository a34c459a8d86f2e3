package xerrors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForUser returns a user-facing rendering of err, omitting internal
// detail keys.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}
	me, ok := err.(*MemoryError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(me.Message)
	sb.WriteString("\n")
	if me.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(me.Suggestion)
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\n[%s]", me.Code))
	return sb.String()
}

// FormatForCLI renders a concise error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	me, ok := err.(*MemoryError)
	if !ok {
		me = Wrap(CodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", me.Message))
	if me.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", me.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", me.Code))
	return sb.String()
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON renders err for machine consumption (audit log entries,
// the MCP tool error payload).
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	me, ok := err.(*MemoryError)
	if !ok {
		me = Wrap(CodeInternal, err)
	}

	je := jsonError{
		Code:       me.Code,
		Message:    me.Message,
		Category:   string(me.Category),
		Severity:   string(me.Severity),
		Details:    me.Details,
		Suggestion: me.Suggestion,
		Retryable:  me.Retryable,
	}
	if me.Cause != nil {
		je.Cause = me.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog returns slog-compatible attributes for err.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	me, ok := err.(*MemoryError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": me.Code,
		"message":    me.Message,
		"category":   string(me.Category),
		"severity":   string(me.Severity),
		"retryable":  me.Retryable,
	}
	if me.Cause != nil {
		result["cause"] = me.Cause.Error()
	}
	if me.Suggestion != "" {
		result["suggestion"] = me.Suggestion
	}
	for k, v := range me.Details {
		result["detail_"+k] = v
	}
	return result
}
