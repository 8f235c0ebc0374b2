package reembed

import (
	"errors"
	"fmt"

	"github.com/poiesic/plansight/core"
)

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrMalformedEmbedding is returned when the embedder returns the wrong
	// number of vectors or vectors of the wrong length.
	ErrMalformedEmbedding = fmt.Errorf("%w: malformed embedding", core.ErrExternalService)
)
