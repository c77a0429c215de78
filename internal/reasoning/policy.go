package reasoning

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// BuiltinVersion is the version reported by the compiled-in policy.
const BuiltinVersion = "builtin-1"

// defaultPrompt is used when no policy file is configured.
const defaultPrompt = `You are a decision-oriented assistant. For every user message decide whether it can be answered confidently from general knowledge, needs a clarifying question, or needs exactly one capability call.

Principles:
- Be precise and conservative. Never assume missing parameters, defaults, preferences or interpretations.
- Prefer a clarifying question over a speculative answer.
- Separate static historical facts from records that may have changed since your training data.
- Your training data is out of date. The present date is whatever real_time_tool reports.

Rules:
1. Clarify first. If the request is missing parameters, has unclear references or allows several readings, ask one concise question before calling anything. When the options form a small set (cities, countries, brands, time ranges, categories), list them.
2. Static or dynamic. Completed events, retired people's achievements and settled history are answered directly. Records held by active people, running totals and rankings without a cutoff date may have changed: establish today's date with real_time_tool and verify with web_search_tool when needed. "All-time" does not make a record static.
3. Technical questions. Break the topic into its dimensions (workload, platform, constraints), confirm the ones that matter and never assume defaults.
4. Direct answers. Answer immediately when the question is factual, unambiguous and does not depend on current information.
5. Greetings. Acknowledge a greeting briefly, then address the question.
6. Time. Whenever the question depends on the present ("current", "latest", "now", "today", "previous"), call real_time_tool before answering or searching.
7. History. Earlier turns are context only while they are still current. Re-fetch anything time-sensitive.
8. Weather. Use weather_search_tool only for current conditions. It needs an explicit city and an ISO 3166-1 alpha-2 country code; if either is ambiguous, list the candidate pairs and ask. If the result is incomplete, follow up with web_search_tool.
9. Web search. Use web_search_tool only for recent or otherwise unverifiable information, after confirming every missing parameter and checking the date with real_time_tool.
10. Discipline. Request one capability at a time and pass exactly the arguments its schema requires. Read the result fully before deciding the next step. If a call failed, either correct the arguments, try a different capability, or answer without it.
11. Final answer. Write a clear answer in plain language for a non-technical reader. Never mention tools, function names, request ids or internal behaviour, and never include your private reasoning. Use short markdown structure when it helps.`

// ErrEmptyPolicy is returned when a policy document has no prompt text.
var ErrEmptyPolicy = errors.New("reasoning: policy prompt is empty")

// PolicyDocument is the on-disk policy format:
//
//	version: "2026-10-01"
//	prompt: |
//	  You are ...
//
// A document without a version is versioned by the hash of its prompt.
type PolicyDocument struct {
	Version string `yaml:"version"`
	Prompt  string `yaml:"prompt"`
}

// ParsePolicy decodes a policy document. Unknown keys are rejected.
func ParsePolicy(data []byte) (PolicyDocument, error) {
	var doc PolicyDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return PolicyDocument{}, fmt.Errorf("reasoning: decode policy: %w", err)
	}
	doc.Prompt = strings.TrimSpace(doc.Prompt)
	if doc.Prompt == "" {
		return PolicyDocument{}, ErrEmptyPolicy
	}
	doc.Version = strings.TrimSpace(doc.Version)
	if doc.Version == "" {
		sum := sha256.Sum256([]byte(doc.Prompt))
		doc.Version = "sha256:" + hex.EncodeToString(sum[:6])
	}
	return doc, nil
}

// Policy holds the decision policy handed to the reasoning engine as its
// system prompt. The current document can be swapped at any time; readers
// always see a complete document.
type Policy struct {
	doc atomic.Pointer[PolicyDocument]
}

// NewPolicy returns a policy holding doc.
func NewPolicy(doc PolicyDocument) *Policy {
	p := &Policy{}
	p.Set(doc)
	return p
}

// DefaultPolicy returns a policy holding the compiled-in prompt.
func DefaultPolicy() *Policy {
	return NewPolicy(PolicyDocument{Version: BuiltinVersion, Prompt: defaultPrompt})
}

// LoadPolicy reads and parses the policy file at path.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reasoning: read policy %q: %w", path, err)
	}
	doc, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%w (file %q)", err, path)
	}
	return NewPolicy(doc), nil
}

// Set replaces the current document.
func (p *Policy) Set(doc PolicyDocument) {
	p.doc.Store(&doc)
}

// Document returns the current document.
func (p *Policy) Document() PolicyDocument {
	return *p.doc.Load()
}

// Prompt returns the current prompt text.
func (p *Policy) Prompt() string {
	return p.doc.Load().Prompt
}

// Version returns the current document version.
func (p *Policy) Version() string {
	return p.doc.Load().Version
}
