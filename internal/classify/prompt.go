// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"bytes"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// systemPrompt carries the relevance rules shared by every request.
const systemPrompt = `You are an academic literature relevance classifier. Decide whether each paper belongs to the target domain using ONLY the provided fields (title, abstract_text, tldr, journal, keywords).

Rules you MUST follow:
- Do not fabricate abstract or paper content.
- Evidence must come from the input text; cite the exact keywords or phrases behind each judgement.
- Answer "uncertain" when unsure; do not guess.
- Output valid JSON only, with no extra text.

Labels:
- relevant: the title or abstract/tldr explicitly mentions core concepts, methods, data or applications of the target domain.
- irrelevant: the text clearly belongs to another topic with no explainable connection to the target domain.
- uncertain: not enough information (for example no abstract or tldr), or only vague keyword matches without supporting context.

Evidence priority: abstract_text > tldr > title > journal.
If abstract_text and tldr are both empty, judge from title and journal and answer "uncertain" if unsure.
Do not answer "relevant" because a word merely looks similar; there must be contextual support.
If positive and negative signals conflict, answer "uncertain" and explain the conflict in reason.`

var userPromptTmpl = template.Must(template.New("classify").Parse(`Target domain:
{{.Topic}}

Classify each of the following {{.Count}} papers. Every paper has an "id"; echo it unchanged in your answer.

Papers (JSON):
{{.Papers}}

Respond with exactly this JSON shape and nothing else:
{"results": [{"id": "<paper id>", "label": "relevant" | "irrelevant" | "uncertain", "confidence": 0.0-1.0, "evidence": ["phrase", "..."], "reason": "brief explanation"}]}
`))

// promptPaper is the subset of a record shown to the model.
type promptPaper struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	AbstractText string   `json:"abstract_text,omitempty"`
	TLDR         string   `json:"tldr,omitempty"`
	Journal      string   `json:"journal,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
}

func buildPrompt(group []types.Record, topic string) (Prompt, error) {
	papers := make([]promptPaper, len(group))
	for i, r := range group {
		papers[i] = promptPaper{
			ID:           r.ID,
			Title:        r.Title,
			AbstractText: r.Abstract,
			TLDR:         r.TLDR,
			Journal:      r.Venue,
			Keywords:     r.Keywords,
		}
	}
	data, err := json.MarshalIndent(papers, "", "  ")
	if err != nil {
		return Prompt{}, eris.Wrap(err, "encoding papers")
	}

	var buf bytes.Buffer
	err = userPromptTmpl.Execute(&buf, struct {
		Topic  string
		Count  int
		Papers string
	}{Topic: topic, Count: len(group), Papers: string(data)})
	if err != nil {
		return Prompt{}, eris.Wrap(err, "rendering prompt")
	}
	return Prompt{System: systemPrompt, User: buf.String()}, nil
}

type responseEnvelope struct {
	Results []responseItem `json:"results"`
}

type responseItem struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
	Reason     string   `json:"reason"`
}

// parseResponse decodes the model reply into verdicts keyed by echoed ID.
// Items without an ID are dropped; unknown labels become uncertain and
// confidence is clamped to [0, 1].
func parseResponse(text string) (map[string]types.Classification, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, eris.New("no JSON object in reply")
	}

	var env responseEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, eris.Wrap(err, "decoding reply")
	}

	out := make(map[string]types.Classification, len(env.Results))
	for _, item := range env.Results {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		if _, dup := out[id]; dup {
			continue
		}
		out[id] = types.Classification{
			Label:      types.ParseLabel(strings.ToLower(strings.TrimSpace(item.Label))),
			Confidence: max(0, min(item.Confidence, 1)),
			Evidence:   item.Evidence,
			Reason:     item.Reason,
		}
	}
	return out, nil
}

// extractJSON pulls the JSON object out of a reply that may wrap it in a
// fenced code block or surrounding prose.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		lines = lines[1:]
		if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
			lines = lines[:n-1]
		}
		s = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
