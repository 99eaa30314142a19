// Package embedding provides text embedders for semantic cache lookups.
package embedding

import "errors"

// ErrUnavailable is returned while the breaker around a remote embedder is open.
var ErrUnavailable = errors.New("embedding unavailable")
