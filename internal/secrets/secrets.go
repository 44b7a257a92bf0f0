// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
package secrets

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// DefaultDir is the secrets directory relative to the working directory.
const DefaultDir = ".secrets/"

// Supported key files.
const (
	EasyScholarKey = "easyscholar-api-key"
	SemanticKey    = "semantic-scholar-api-key"
	LLMKey         = "llm-api-key"
	AnthropicKey   = "anthropic-api-key"
	OpenAlexEmail  = "openalex-email"
	CrossrefMailto = "crossref-mailto"
)

// Secrets maps key file names to their values.
type Secrets map[string]string

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string) (Secrets, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Secrets{}, nil
		}
		return nil, eris.Wrapf(err, "reading secrets directory %s", dir)
	}

	secrets := make(Secrets)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			zap.L().Warn("secrets: could not read key file", zap.String("name", name), zap.Error(err))
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Names returns the loaded key names without their values.
func (s Secrets) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	return names
}

// fill sets *dst from key when *dst is empty.
func (s Secrets) fill(dst *string, key string) {
	if *dst != "" {
		return
	}
	if v, ok := s[key]; ok {
		*dst = v
	}
}

// Apply fills credentials that flags, the config file and the environment
// left empty. The Anthropic key only backs the anthropic provider.
func (s Secrets) Apply(cfg *types.PipelineConfig) {
	s.fill(&cfg.Ranking.APIKey, EasyScholarKey)
	s.fill(&cfg.Enrichment.SemanticAPIKey, SemanticKey)
	s.fill(&cfg.Acquisition.OpenAlexEmail, OpenAlexEmail)
	s.fill(&cfg.Enrichment.CrossrefMailto, CrossrefMailto)
	if strings.EqualFold(cfg.LLM.Provider, "anthropic") {
		s.fill(&cfg.LLM.APIKey, AnthropicKey)
	}
	s.fill(&cfg.LLM.APIKey, LLMKey)
}
