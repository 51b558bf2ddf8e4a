// Package embed converts text into fixed-length vectors for similarity
// search. Providers surface failures as typed errors rather than panics:
// ErrProviderUnavailable when no credentials are configured, *EmbedError
// for transport or API failures on specific content.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrProviderUnavailable indicates the provider has no credentials
// configured. Callers should check Available() before assuming the
// index or query paths are functional.
var ErrProviderUnavailable = errors.New("embedding provider unavailable: no API key configured")

// EmbedError is a tagged failure generating a vector for specific content.
// It does not abort a batch of unrelated documents or corrupt the store.
type EmbedError struct {
	Reason string
	Status int // HTTP status when the failure came from the API, 0 otherwise
	Err    error
}

func (e *EmbedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedding failed: %s (status %d)", e.Reason, e.Status)
	}
	return "embedding failed: " + e.Reason
}

func (e *EmbedError) Unwrap() error { return e.Err }

// Provider converts text to vectors.
type Provider interface {
	// Name identifies the provider.
	Name() string

	// Dimensions returns the vector dimensionality. Fixed for the
	// lifetime of an index; mixing dimensionalities is undefined.
	Dimensions() int

	// Available reports whether credentials are configured. It performs
	// no network I/O.
	Available() bool

	// Embed converts a single text to a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts to vectors in one request. A batch
	// failure fails every item; there is no partial-batch success.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Truncate trims text and caps it at maxChars so provider input-size
// limits are respected. Cache keys are computed over the truncated text.
func Truncate(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars > 0 && len(text) > maxChars {
		return text[:maxChars]
	}
	return text
}
