package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the back end could not be reached or refused the write.
	ErrUnavailable = errors.New("store unavailable")
	// ErrPolicy means the bucket or pinning policy could not be applied.
	ErrPolicy       = errors.New("store policy error")
	ErrEmptyPayload = errors.New("empty payload")
)

// Artifact is the unit handed to a Persister. It belongs to a single
// pipeline run.
type Artifact struct {
	Data        []byte
	SourceURL   string
	ContentType string
	Name        string
	Prompt      string
	CreatedAt   time.Time
}

type Location struct {
	URL         string
	MetadataURI string
}

type Persister interface {
	Persist(context.Context, Artifact) (Location, error)
}

// NeedsData reports whether p reads Artifact.Data. Persisters that only
// reference the source URL implement NeedsData() bool and return false.
func NeedsData(p Persister) bool {
	if d, ok := p.(interface{ NeedsData() bool }); ok {
		return d.NeedsData()
	}
	return true
}
