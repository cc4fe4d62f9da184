// Package response normalizes remote agent replies. Remote runtimes wrap
// agent output in nested message envelopes; the helpers here recover the
// plain text and any inline control fields without ever failing: malformed
// payloads degrade to raw text.
package response

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Response is the uniform view of one agent reply. Raw keeps the reply
// exactly as it arrived for callers that re-scan it or forward it verbatim.
type Response struct {
	Raw            string
	Text           string
	RouteTo        string
	Classification string
}

// contentBlock is one entry of a message-format content array.
type contentBlock struct {
	Text string `json:"text"`
}

type envelope struct {
	Content        []contentBlock  `json:"content"`
	Response       json.RawMessage `json:"response"`
	RouteTo        string          `json:"route_to"`
	Classification string          `json:"classification"`
}

// ExtractText recovers the plain text from a possibly nested reply.
// Recognized shapes, tried in order:
//
//	{"role":"assistant","content":[{"text":"..."}]}
//	{"response":{"role":"assistant","content":[{"text":"..."}]}}
//	{"response":"plain text"}
//
// Anything else is returned unchanged.
func ExtractText(raw string) string {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return raw
	}

	if text, ok := joinBlocks(env.Content); ok {
		return text
	}

	if len(env.Response) > 0 {
		var inner envelope
		if err := json.Unmarshal(env.Response, &inner); err == nil {
			if text, ok := joinBlocks(inner.Content); ok {
				return text
			}
		}
		var plain string
		if err := json.Unmarshal(env.Response, &plain); err == nil {
			return plain
		}
	}

	return raw
}

func joinBlocks(blocks []contentBlock) (string, bool) {
	var parts []string
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// Parse builds the uniform Response for a raw reply: the extracted text plus
// any top-level control fields the agent emitted. A reply that is not a JSON
// object yields a Response carrying only the text.
func Parse(raw string) Response {
	out := Response{Raw: raw, Text: ExtractText(raw)}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return out
	}
	out.RouteTo = env.RouteTo
	out.Classification = env.Classification
	return out
}

// HandoffDecl is a structured handoff declaration scraped from reply text.
// Targets are reported exactly as declared; callers validate them against
// the known agent set.
type HandoffDecl struct {
	Targets    []string
	IsList     bool
	ConvergeAt string
}

var (
	handoffJSONRe    = regexp.MustCompile(`\{[^{}]*"handoff_to"\s*:\s*(?:\[[^\]]*\]|"[^"]*")[^{}]*\}`)
	handoffEscapedRe = regexp.MustCompile(`\{[^{}]*\\"handoff_to\\"[^{}]*\}`)
	handoffPhraseRe  = regexp.MustCompile(`[Hh]and(?:ing|ed)?\s*off\s*to\s*["']?(\w+)["']?`)
)

type handoffPayload struct {
	HandoffTo  json.RawMessage `json:"handoff_to"`
	ConvergeAt string          `json:"converge_at"`
}

// FindHandoff scans text for an embedded JSON handoff declaration.
// A tolerant parser: no match or malformed JSON reports ok=false, never
// an error.
func FindHandoff(text string) (HandoffDecl, bool) {
	match := handoffJSONRe.FindString(text)
	if match == "" {
		return HandoffDecl{}, false
	}
	return parseHandoffPayload(match)
}

// FindEscapedHandoff retries against the transport-escaped encoding of the
// same declaration, covering replies whose inner JSON arrived escaped.
func FindEscapedHandoff(raw string) (HandoffDecl, bool) {
	match := handoffEscapedRe.FindString(raw)
	if match == "" {
		return HandoffDecl{}, false
	}
	return parseHandoffPayload(strings.ReplaceAll(match, `\"`, `"`))
}

// FindHandoffPhrase is the last textual heuristic: a loose
// "handing off to <name>" match. The returned name is unvalidated.
func FindHandoffPhrase(text string) (string, bool) {
	m := handoffPhraseRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func parseHandoffPayload(jsonText string) (HandoffDecl, bool) {
	var payload handoffPayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return HandoffDecl{}, false
	}
	if len(payload.HandoffTo) == 0 {
		return HandoffDecl{}, false
	}

	decl := HandoffDecl{ConvergeAt: payload.ConvergeAt}

	var list []string
	if err := json.Unmarshal(payload.HandoffTo, &list); err == nil {
		if len(list) == 0 {
			return HandoffDecl{}, false
		}
		decl.Targets = list
		decl.IsList = true
		return decl, true
	}

	var single string
	if err := json.Unmarshal(payload.HandoffTo, &single); err == nil && single != "" {
		decl.Targets = []string{single}
		return decl, true
	}

	return HandoffDecl{}, false
}
