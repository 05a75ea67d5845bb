package knowledge

import (
	"context"
	"fmt"
)

// Source is the uniform capability interface implemented by the
// internal knowledge graph and by external registry clients.
//
// Every call can fail independently. Aggregators treat a single
// source's failure as an empty contribution, never as fatal to the
// overall aggregation.
type Source interface {
	// Tag identifies this source in provenance lists.
	Tag() SourceTag

	// Search finds drugs matching a free-text query.
	Search(ctx context.Context, query string, limit int) ([]DrugSummary, error)

	// FindAlternatives returns therapeutic alternatives for a medication.
	FindAlternatives(ctx context.Context, medication string, criteria AlternativeCriteria) ([]AlternativeCandidate, error)

	// GetInteractions returns known interactions among the given
	// medications. Only pairs where both names are in the input set are
	// reported.
	GetInteractions(ctx context.Context, medications []string) ([]InteractionRecord, error)
}

// Pricer is implemented by sources that can answer price lookups for
// the cost optimizer.
type Pricer interface {
	GetPrice(ctx context.Context, medication string) (*float64, *PriceRange, error)
}

// SafetyAnnotator is implemented by sources that can report regulatory
// safety signals for a drug. Failures degrade to no annotation.
type SafetyAnnotator interface {
	AdverseEvents(ctx context.Context, medication string, limit int) ([]string, error)
	SearchRecalls(ctx context.Context, product string, limit int) ([]string, error)
}

// Classifier is implemented by sources that can resolve an ATC
// classification for a drug. A nil result means the drug is unlisted.
type Classifier interface {
	GetATCClassification(ctx context.Context, drug string) (*ATCClassification, error)
}

// UnavailableError marks a per-source failure (network, timeout,
// not-found). It degrades that source's contribution to empty and is
// never fatal to the request.
type UnavailableError struct {
	Source SourceTag
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("knowledge source %s unavailable: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// MergeInvariantError indicates a programming error surfaced during
// merging, e.g. a candidate with no name key. It is fatal.
type MergeInvariantError struct {
	Detail string
}

func (e *MergeInvariantError) Error() string {
	return "merge invariant violated: " + e.Detail
}
