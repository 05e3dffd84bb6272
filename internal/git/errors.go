package git

import (
	"fmt"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
)

// Failure reasons. Each wraps one of the apperr kinds, so callers can test
// for either the reason or the kind.
var (
	ErrRevisionNotFound = fmt.Errorf("revision not found: %w", apperr.ErrNotFound)
	ErrFileNotFound     = fmt.Errorf("file not found in revision: %w", apperr.ErrNotFound)
	ErrRepoNotFound     = fmt.Errorf("repository path does not exist: %w", apperr.ErrNotFound)
	ErrNotRepository    = fmt.Errorf("not a git repository: %w", apperr.ErrInvalidInput)
	ErrInvalidRange     = fmt.Errorf("invalid line range: %w", apperr.ErrInvalidInput)
	ErrInvalidRevision  = fmt.Errorf("malformed revision: %w", apperr.ErrInvalidInput)
	ErrInvalidUtf8      = fmt.Errorf("text is not valid UTF-8: %w", apperr.ErrCorrupt)
	ErrTimeConversion   = fmt.Errorf("timestamp cannot be converted: %w", apperr.ErrCorrupt)
)
