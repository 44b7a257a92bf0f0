// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Label is the relevance verdict assigned by the LLM classifier.
type Label string

const (
	LabelRelevant   Label = "relevant"
	LabelIrrelevant Label = "irrelevant"
	LabelUncertain  Label = "uncertain"
)

// ParseLabel maps a model-supplied label onto the known set. Anything
// unrecognised becomes uncertain.
func ParseLabel(s string) Label {
	switch Label(s) {
	case LabelRelevant, LabelIrrelevant, LabelUncertain:
		return Label(s)
	}
	return LabelUncertain
}

// Classification is the LLM verdict for one record.
type Classification struct {
	Label      Label    `json:"label" yaml:"label"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Evidence   []string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Reason     string   `json:"reason" yaml:"reason"`

	// Usage is the token usage of the request that produced this verdict.
	// Records classified in the same group share one request.
	Usage TokenUsage `json:"token_usage" yaml:"token_usage"`
}

// TokenUsage counts prompt and completion tokens.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens" yaml:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Add returns the sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}
