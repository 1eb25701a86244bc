package structured

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// Mode says how a response was obtained.
type Mode string

const (
	ModeStructured Mode = "structured" // the text decoded as JSON
	ModeFenced     Mode = "fenced"     // JSON recovered from a code fence or brace span
	ModeSalvaged   Mode = "salvaged"   // only the message field was recovered
	ModeFallback   Mode = "fallback"   // prose reply or apology
	ModeDemo       Mode = "demo"       // generated locally
)

const (
	proseLimit      = 500
	apologyMessage  = "I'm sorry, I had trouble putting my thoughts together. Could you say that again?"
	fallbackContext = "fallback_mode"
)

var (
	// markerTags are removed with their content.
	markerTags = regexp.MustCompile(`(?is)<(thinking|reasoning|analysis|scratchpad|reflection)>.*?</(?:thinking|reasoning|analysis|scratchpad|reflection)>`)
	// wrapperTags are removed but their content kept.
	wrapperTags  = regexp.MustCompile(`(?i)</?(json|response|output|answer)>`)
	fencedBlock  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	messageField = regexp.MustCompile(`"message"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// Parse turns raw generator output into a response. It never fails: the
// worst case is an apology with no actions.
func Parse(raw string, now time.Time) (*core.StructuredAIResponse, Mode, string) {
	text := StripMarkers(raw)

	if obj, ok := decodeObject(text); ok {
		return Normalize(obj, now), ModeStructured, ""
	}
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(m[1]); ok {
			return Normalize(obj, now), ModeFenced, "decoded fenced block"
		}
	}
	if span, ok := braceSpan(text); ok {
		if obj, ok := decodeObject(span); ok {
			return Normalize(obj, now), ModeFenced, "decoded embedded object"
		}
	}

	if msg, ok := salvageMessage(text); ok {
		return fallbackResponse(msg), ModeSalvaged, "recovered message field from malformed JSON"
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" && !looksLikeJSON(trimmed) {
		return fallbackResponse(truncate(trimmed, proseLimit)), ModeFallback, "generator replied in prose"
	}
	return fallbackResponse(apologyMessage), ModeFallback, "unparseable generator output"
}

// StripMarkers removes reasoning tags and unwraps wrapper tags.
func StripMarkers(raw string) string {
	text := markerTags.ReplaceAllString(raw, "")
	text = wrapperTags.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func braceSpan(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func salvageMessage(s string) (string, bool) {
	m := messageField.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	msg, err := strconv.Unquote(`"` + m[1] + `"`)
	if err != nil {
		msg = m[1]
	}
	msg = strings.TrimSpace(msg)
	return msg, msg != ""
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") ||
		strings.Contains(s, "```") || strings.Contains(s, `":`)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func fallbackResponse(message string) *core.StructuredAIResponse {
	resp := core.NewStructuredAIResponse(message)
	resp.Metadata.ConfidenceLevel = 0.5
	resp.Metadata.ContextUsed = []string{fallbackContext}
	return resp
}
