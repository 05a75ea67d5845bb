package registry

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/knowledge"
)

// EssentialMedicinesClient talks to a WHO-style essential-medicines
// registry. It is the only source allowed to set IsEssential on a
// candidate; the flag is sticky once set during merge.
type EssentialMedicinesClient struct {
	client *Client
	logger *zap.Logger
}

// NewEssentialMedicinesClient wraps the shared request core.
func NewEssentialMedicinesClient(client *Client, logger *zap.Logger) *EssentialMedicinesClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EssentialMedicinesClient{client: client, logger: logger}
}

// Tag implements knowledge.Source.
func (c *EssentialMedicinesClient) Tag() knowledge.SourceTag {
	return knowledge.SourceEssentialMedicines
}

// Search implements knowledge.Source against the essential medicines
// list.
func (c *EssentialMedicinesClient) Search(ctx context.Context, query string, limit int) ([]knowledge.DrugSummary, error) {
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	var resp searchResponse
	if err := c.client.GetJSON(ctx, "/essentialmedicines", q, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &knowledge.UnavailableError{Source: c.Tag(), Err: err}
	}
	out := make([]knowledge.DrugSummary, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Name == "" {
			continue
		}
		out = append(out, knowledge.DrugSummary{
			Name:        r.Name,
			GenericName: r.GenericName,
			DrugClass:   r.DrugClass,
			Strength:    r.Strength,
			Form:        r.Form,
		})
	}
	return out, nil
}

// FindAlternatives implements knowledge.Source. Every returned
// candidate carries IsEssential.
func (c *EssentialMedicinesClient) FindAlternatives(ctx context.Context, medication string, criteria knowledge.AlternativeCriteria) ([]knowledge.AlternativeCandidate, error) {
	q := url.Values{"q": {medication}}
	var resp searchResponse
	if err := c.client.GetJSON(ctx, "/essentialmedicines/alternatives", q, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &knowledge.UnavailableError{Source: c.Tag(), Err: err}
	}

	out := make([]knowledge.AlternativeCandidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Name == "" {
			c.logger.Warn("dropping unnamed essential-medicines candidate",
				zap.String("medication", medication))
			continue
		}
		if r.IsGeneric && !criteria.IncludeGeneric {
			continue
		}
		if !r.IsGeneric && !criteria.IncludeBrand {
			continue
		}
		out = append(out, knowledge.AlternativeCandidate{
			Name:            r.Name,
			GenericName:     r.GenericName,
			DrugClass:       r.DrugClass,
			Strength:        r.Strength,
			Form:            r.Form,
			Manufacturer:    r.Manufacturer,
			Price:           r.Price,
			IsGeneric:       r.IsGeneric,
			IsEssential:     true,
			SimilarityScore: r.SimilarityScore,
			Sources:         []knowledge.SourceTag{c.Tag()},
		})
	}
	return out, nil
}

// GetInteractions implements knowledge.Source. The essential-medicines
// list carries no interaction data.
func (c *EssentialMedicinesClient) GetInteractions(ctx context.Context, medications []string) ([]knowledge.InteractionRecord, error) {
	return nil, nil
}

// GetATCClassification implements knowledge.Classifier against the
// registry's ATC endpoint.
func (c *EssentialMedicinesClient) GetATCClassification(ctx context.Context, drug string) (*knowledge.ATCClassification, error) {
	q := url.Values{"drug": {drug}}
	var resp knowledge.ATCClassification
	if err := c.client.GetJSON(ctx, "/atc", q, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &knowledge.UnavailableError{Source: c.Tag(), Err: err}
	}
	if resp.Code == "" {
		return nil, nil
	}
	return &resp, nil
}
