package config

import (
	"fmt"
	"strings"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
)

// ValidationResult accumulates configuration problems without stopping at
// the first one, so a single Validate call reports everything wrong.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

func (r *ValidationResult) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, e := range r.Errors {
		sb.WriteString("  - " + e + "\n")
	}
	for _, w := range r.Warnings {
		sb.WriteString("  (warning) " + w + "\n")
	}
	return sb.String()
}

// Validate checks that the configuration needed by the enabled sources is
// present. Per spec §6.4, unknown keys are ignored and missing required
// keys are a configuration error raised before any network call — this is
// that check. Load does not call it; callers run it themselves.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	if c.Store.Backend == "" {
		result.AddError("store.backend must be set (bbolt, sqlite, or postgres)")
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		result.AddError("store.dsn is required when store.backend=postgres")
	}
	if (c.Store.Backend == "bbolt" || c.Store.Backend == "sqlite") && c.Store.Path == "" {
		result.AddError("store.path is required when store.backend=%s", c.Store.Backend)
	}

	enabled := c.Sources.Enabled
	if enabled["code_hosting"] && c.Sources.CodeHosting.Token == "" {
		result.AddError("sources.code_hosting.token is required when code_hosting is enabled")
	}
	if enabled["ticketing"] && c.Sources.Ticketing.Token == "" {
		result.AddError("sources.ticketing.token is required when ticketing is enabled")
	}
	if enabled["doc_platform_linear"] && c.Sources.DocPlatformA.Token == "" {
		result.AddError("sources.doc_platform_a.token is required when doc_platform_linear is enabled")
	}
	if enabled["doc_platform_notion"] && c.Sources.DocPlatformB.Token == "" {
		result.AddError("sources.doc_platform_b.token is required when doc_platform_notion is enabled")
	}
	if c.Sources.ADR.GlobPattern == "" {
		result.AddWarning("sources.adr.glob_pattern is empty, defaulting to **/adr/**/*.md")
		c.Sources.ADR.GlobPattern = "**/adr/**/*.md"
	}

	return result
}

// AsError converts a failed ValidationResult into a classified config
// error, or returns nil when validation passed.
func (r *ValidationResult) AsError(operation string) error {
	if !r.HasErrors() {
		return nil
	}
	return arcerrors.New(arcerrors.KindParse, "config", operation, r.Error())
}
