package embed

import (
	"fmt"
	"strings"

	"github.com/ciphermesh/hyperia/internal/domain"
)

// ValidationResult is the outcome of ValidateProviderConfig (spec
// §4.3.a): errors block pool construction, warnings and suggestions
// don't.
type ValidationResult struct {
	IsValid     bool
	Errors      []string
	Warnings    []string
	Suggestions []string
}

func (r *ValidationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.IsValid = false
}

func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *ValidationResult) addSuggestion(msg string) {
	r.Suggestions = append(r.Suggestions, msg)
}

// knownModelDimensions maps a subset of well-known model names to the
// dimensionality they actually produce, so a mismatched cfg.Dimensions
// can be flagged before a provider is constructed.
var knownModelDimensions = map[string]int{
	"nomic-embed-text":      768,
	"mxbai-embed-large":     1024,
	"all-minilm":            384,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// ValidateProviderConfig checks a ProviderConfig against the rules a
// provider pool must enforce before ever constructing an Embedder:
// required fields, supported dimensions, model/dimension compatibility,
// API key shape, a non-negative request rate, and minimum timeout (spec
// §4.3.a). Batch sizes are checked separately by ValidateBatchSize.
func ValidateProviderConfig(providerKind string, cfg ProviderConfig) ValidationResult {
	result := ValidationResult{IsValid: true}

	if strings.TrimSpace(cfg.ProviderID) == "" {
		result.addError("providerId is required")
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		result.addError("modelId is required")
	}

	if cfg.Dimensions != 0 && !domain.SupportedDimensions[cfg.Dimensions] {
		result.addError(fmt.Sprintf("dimensions %d is not in the supported set", cfg.Dimensions))
	}

	if cfg.Dimensions != 0 {
		if expected, known := knownModelDimensions[strings.ToLower(cfg.ModelID)]; known && expected != cfg.Dimensions {
			result.addError(fmt.Sprintf("model %q produces %d-dimensional vectors, not %d", cfg.ModelID, expected, cfg.Dimensions))
		}
	}

	switch strings.ToLower(providerKind) {
	case "remote", "remote-http":
		if cfg.BaseURL == "" {
			result.addWarning("baseUrl not set, defaulting to " + DefaultRemoteHost)
			result.addSuggestion("set baseUrl explicitly for non-local deployments")
		}
		if cfg.APIKey != "" && !looksLikeAPIKey(cfg.APIKey) {
			result.addWarning("apiKey does not look like a typical API key (unexpected format)")
		}
	case "local":
		if cfg.APIKey != "" {
			result.addWarning("apiKey is ignored by the local provider")
		}
		if cfg.BaseURL != "" {
			result.addWarning("baseUrl is ignored by the local provider")
		}
	default:
		// Unrecognized kind: skip kind-specific checks. The pool itself
		// rejects kinds with no registered factory; this function only
		// validates fields it knows how to interpret.
	}

	if cfg.Timeout != 0 && cfg.Timeout < 1000_000_000 { // 1000ms in nanoseconds
		result.addError("timeout must be at least 1000ms")
	}

	if batchSize := cfg.RequestsPerMinute; batchSize < 0 {
		result.addError("requestsPerMinute must not be negative")
	}

	return result
}

// looksLikeAPIKey applies a loose shape check: non-trivial length, no
// embedded whitespace. Providers vary too much in key format to check
// more strictly than this.
func looksLikeAPIKey(key string) bool {
	if len(key) < 8 {
		return false
	}
	return !strings.ContainsAny(key, " \t\n")
}

// ValidateBatchSize checks a requested batch size against a provider's
// advertised limit.
func ValidateBatchSize(size, providerMax int) ValidationResult {
	result := ValidationResult{IsValid: true}
	if size < MinBatchSize {
		result.addError(fmt.Sprintf("batch size %d is below the minimum of %d", size, MinBatchSize))
	}
	if size > providerMax {
		result.addError(fmt.Sprintf("batch size %d exceeds provider maximum of %d", size, providerMax))
		result.addSuggestion(fmt.Sprintf("split the batch into chunks of at most %d", providerMax))
	}
	return result
}
