package claude

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Extract mines a structured payload out of claude's stream-json output.
//
// Agent transcripts are messy: the model thinks out loud, emits draft JSON,
// corrects itself, and wraps the real answer in prose. The search order is
// the whole contract here: newest assistant text segment first, and within
// a segment the last fenced block first, accepting the first decoded object
// that carries requiredField. Validation is key presence only; the value is
// the caller's problem.
//
// Returns nil when no candidate decodes.
func Extract(output, requiredField string) map[string]any {
	segments := assistantTextSegments(output)
	for i := len(segments) - 1; i >= 0; i-- {
		if obj := scanFencedBlocks(segments[i], requiredField); obj != nil {
			return obj
		}
	}

	// Non-stream output, or the answer got mangled into escaped text.
	// Unescape the common sequences and rescan the raw transcript.
	text := unescape(output)
	if obj := scanFencedBlocks(text, requiredField); obj != nil {
		return obj
	}

	return scanBareObjects(text, requiredField)
}

// ExtractAny tries Extract with each field name in order and returns the
// first hit. Agents accept several field spellings because model output
// drifts between runs.
func ExtractAny(output string, fields ...string) map[string]any {
	for _, f := range fields {
		if obj := Extract(output, f); obj != nil {
			return obj
		}
	}
	return nil
}

// assistantTextSegments parses stream-json lines and collects the free-text
// segments of assistant events, preserving emission order.
func assistantTextSegments(output string) []string {
	var segments []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var msg struct {
			Type    string `json:"type"`
			Message struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type != "assistant" {
			continue
		}
		for _, c := range msg.Message.Content {
			if c.Type == "text" {
				segments = append(segments, c.Text)
			}
		}
	}
	return segments
}

// scanFencedBlocks extracts every ```json fenced block from text and tries
// them last-to-first: when the model corrects itself, the later block is the
// final answer. Blocks are delimited by the opening fence and the next fence,
// so nested braces inside a block cannot confuse the match.
func scanFencedBlocks(text, requiredField string) map[string]any {
	blocks := fencedJSONBlocks(text)
	for i := len(blocks) - 1; i >= 0; i-- {
		if obj := decodeWithField(blocks[i], requiredField); obj != nil {
			return obj
		}
	}
	return nil
}

const jsonFence = "```json"

// fencedJSONBlocks returns the contents of all ```json ... ``` blocks in text.
func fencedJSONBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, jsonFence)
		if start == -1 {
			break
		}
		rest = rest[start+len(jsonFence):]
		end := strings.Index(rest, "```")
		if end == -1 {
			break
		}
		blocks = append(blocks, strings.TrimSpace(rest[:end]))
		rest = rest[end+3:]
	}
	return blocks
}

// bareObjectRe matches a single-level brace-delimited object. Candidates are
// filtered for the required key afterwards, since RE2 cannot interpolate the
// field name safely for arbitrary input.
var bareObjectRe = regexp.MustCompile(`\{[^{}]*\}`)

// scanBareObjects is the last-resort fallback: find flat JSON objects in raw
// text that mention the required field as a quoted key, newest first.
func scanBareObjects(text, requiredField string) map[string]any {
	quoted := `"` + requiredField + `"`
	matches := bareObjectRe.FindAllString(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if !strings.Contains(matches[i], quoted) {
			continue
		}
		if obj := decodeWithField(matches[i], requiredField); obj != nil {
			return obj
		}
	}
	return nil
}

// decodeWithField decodes candidate as a JSON object and validates that the
// required field is present. Value is ignored.
func decodeWithField(candidate, requiredField string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil
	}
	if _, ok := obj[requiredField]; !ok {
		return nil
	}
	return obj
}

// unescape undoes the common textual escape sequences that appear when JSON
// transcripts get embedded as strings.
func unescape(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}
