// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent to API providers
	// (e.g. "scholar-pipeline/0.1 (mailto:you@example.org)").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// Proxy is an optional proxy URL (e.g. "http://127.0.0.1:7890").
	Proxy string `json:"proxy,omitempty" yaml:"proxy,omitempty" mapstructure:"proxy"`
}

// RetryConfig is the shared provider retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per call (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// BaseDelay is the first backoff; it doubles each attempt up to MaxDelay.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay  time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`

	// MaxTotalWait caps the summed backoff of one call.
	MaxTotalWait time.Duration `json:"max_total_wait" yaml:"max_total_wait" mapstructure:"max_total_wait"`

	// Jitter is the +/- fraction applied to each backoff (default 0.25).
	Jitter float64 `json:"jitter" yaml:"jitter" mapstructure:"jitter"`
}

// CacheConfig controls the Cache/Rate layer shared by provider-backed stages.
type CacheConfig struct {
	// TTL bounds entry lifetime. Zero keeps entries for the whole run.
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`

	// MaxInFlight is the per-provider ceiling on simultaneous requests.
	MaxInFlight int `json:"max_in_flight" yaml:"max_in_flight" mapstructure:"max_in_flight"`

	// Path enables SQLite persistence of lookups across runs. Empty keeps
	// the cache in memory only.
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`

	// StoreMaxAge is the oldest persisted lookup still reused (default 720h).
	// Result pages are capped at 24h regardless.
	StoreMaxAge time.Duration `json:"store_max_age" yaml:"store_max_age" mapstructure:"store_max_age"`
}

// AcquisitionConfig holds settings for the acquisition stage.
type AcquisitionConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Source selects the acquisition backend: "gscholar" or "openalex".
	Source string `json:"source" yaml:"source" mapstructure:"source"`

	// Pages is a page number or inclusive range ("1", "1-5").
	Pages string `json:"pages" yaml:"pages" mapstructure:"pages"`

	// YearFloor keeps results published in or after this year. Zero means
	// five years before the current year.
	YearFloor int `json:"year_floor" yaml:"year_floor" mapstructure:"year_floor"`

	// SDT is the Scholar source-type filter ("0,5" excludes books).
	SDT string `json:"sdt" yaml:"sdt" mapstructure:"sdt"`

	// Mirror replaces https://scholar.google.com for blocked regions.
	Mirror string `json:"mirror,omitempty" yaml:"mirror,omitempty" mapstructure:"mirror"`

	// CookiePath is the session artifact loaded at stage start.
	CookiePath string `json:"cookie_path" yaml:"cookie_path" mapstructure:"cookie_path"`

	// PageDelayMin and PageDelayMax bound the random pause between Scholar pages.
	PageDelayMin time.Duration `json:"page_delay_min" yaml:"page_delay_min" mapstructure:"page_delay_min"`
	PageDelayMax time.Duration `json:"page_delay_max" yaml:"page_delay_max" mapstructure:"page_delay_max"`

	// OpenAlexEmail is sent as mailto for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`

	// PerPage is the OpenAlex page size (max 200).
	PerPage int `json:"per_page" yaml:"per_page" mapstructure:"per_page"`
}

// EnrichmentConfig holds settings for the Crossref and Semantic Scholar stages.
type EnrichmentConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// CrossrefMailto identifies the caller to Crossref's polite pool.
	CrossrefMailto string `json:"crossref_mailto,omitempty" yaml:"crossref_mailto,omitempty" mapstructure:"crossref_mailto"`

	// SimilarityThreshold is the minimum normalized-title similarity for
	// accepting a Crossref DOI match (default 0.85).
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`

	// CrossrefConcurrency bounds concurrent title lookups (default 3).
	CrossrefConcurrency int `json:"crossref_concurrency" yaml:"crossref_concurrency" mapstructure:"crossref_concurrency"`

	// SemanticAPIKey is optional; it raises Semantic Scholar rate limits.
	SemanticAPIKey string `json:"semantic_api_key,omitempty" yaml:"semantic_api_key,omitempty" mapstructure:"semantic_api_key"`

	// SemanticBatchSize is the number of DOIs per batch request (max 50).
	SemanticBatchSize int `json:"semantic_batch_size" yaml:"semantic_batch_size" mapstructure:"semantic_batch_size"`

	DisableCrossref bool `json:"disable_crossref,omitempty" yaml:"disable_crossref,omitempty" mapstructure:"disable_crossref"`
	DisableSemantic bool `json:"disable_semantic,omitempty" yaml:"disable_semantic,omitempty" mapstructure:"disable_semantic"`
}

// RankingThresholds are the ranking filter predicates. Nil or empty fields
// are not applied.
type RankingThresholds struct {
	SCIIF      *float64 `json:"sciif,omitempty" yaml:"sciif,omitempty" mapstructure:"sciif"`
	JCI        *float64 `json:"jci,omitempty" yaml:"jci,omitempty" mapstructure:"jci"`
	Partitions []string `json:"sci,omitempty" yaml:"sci,omitempty" mapstructure:"sci"`
	SCIUpTop   string   `json:"sci_up_top,omitempty" yaml:"sci_up_top,omitempty" mapstructure:"sci_up_top"`
	SCIBase    string   `json:"sci_base,omitempty" yaml:"sci_base,omitempty" mapstructure:"sci_base"`
	SCIUp      string   `json:"sci_up,omitempty" yaml:"sci_up,omitempty" mapstructure:"sci_up"`
}

// Active reports whether any predicate is configured.
func (t RankingThresholds) Active() bool {
	return t.SCIIF != nil || t.JCI != nil || len(t.Partitions) > 0 ||
		t.SCIUpTop != "" || t.SCIBase != "" || t.SCIUp != ""
}

// RankingConfig holds settings for the ranking stage.
type RankingConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// APIKey is the EasyScholar secret key. The stage is skipped without it.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MinInterval is the minimum spacing between requests (default 600ms).
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval" mapstructure:"min_interval"`

	// Concurrency bounds concurrent venue lookups (default 4).
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	Thresholds RankingThresholds `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`
}

// LLMConfig holds settings for the relevance classification stage.
type LLMConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Provider selects the backend: "openai" (any OpenAI-compatible API) or "anthropic".
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`

	// BaseURL is the OpenAI-compatible API root (e.g. "https://api.openai.com/v1").
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
	Model  string `json:"model" yaml:"model" mapstructure:"model"`

	// Topic describes the target domain; records are judged against it.
	Topic string `json:"topic,omitempty" yaml:"topic,omitempty" mapstructure:"topic"`

	// GroupSize is the number of records per classification request.
	GroupSize int `json:"group_size" yaml:"group_size" mapstructure:"group_size"`

	// MaxInFlight bounds concurrent classification requests.
	MaxInFlight int `json:"max_in_flight" yaml:"max_in_flight" mapstructure:"max_in_flight"`

	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OutputConfig controls where stage artifacts are written.
type OutputConfig struct {
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`
}

// ServerConfig controls the HTTP search server.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" mapstructure:"host"`
	Port int    `json:"port" yaml:"port" mapstructure:"port"`

	// AllowedOrigins enables CORS for browser clients. Empty disables it.
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty" mapstructure:"allowed_origins"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is "console" for human-readable output or "json".
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Acquisition AcquisitionConfig `json:"acquisition" yaml:"acquisition" mapstructure:"acquisition"`
	Enrichment  EnrichmentConfig  `json:"enrichment" yaml:"enrichment" mapstructure:"enrichment"`
	Ranking     RankingConfig     `json:"ranking" yaml:"ranking" mapstructure:"ranking"`
	LLM         LLMConfig         `json:"llm" yaml:"llm" mapstructure:"llm"`
	Retry       RetryConfig       `json:"retry" yaml:"retry" mapstructure:"retry"`
	Cache       CacheConfig       `json:"cache" yaml:"cache" mapstructure:"cache"`
	Output      OutputConfig      `json:"output" yaml:"output" mapstructure:"output"`
	Server      ServerConfig      `json:"server" yaml:"server" mapstructure:"server"`
	Log         LogConfig         `json:"log" yaml:"log" mapstructure:"log"`
}
