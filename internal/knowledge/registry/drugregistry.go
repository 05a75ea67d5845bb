package registry

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/knowledge"
)

// DrugRegistryClient talks to an FDA-style regulatory registry. It is
// the pricing-capable source for the cost optimizer and additionally
// exposes adverse-event and recall lookups used to annotate
// candidates.
type DrugRegistryClient struct {
	client *Client
	logger *zap.Logger
}

// NewDrugRegistryClient wraps the shared request core.
func NewDrugRegistryClient(client *Client, logger *zap.Logger) *DrugRegistryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DrugRegistryClient{client: client, logger: logger}
}

// Tag implements knowledge.Source.
func (c *DrugRegistryClient) Tag() knowledge.SourceTag { return knowledge.SourceDrugRegistry }

// candidatePayload is the loosely-shaped upstream record, validated
// into AlternativeCandidate at this boundary.
type candidatePayload struct {
	Name            string   `json:"name"`
	GenericName     string   `json:"generic_name"`
	DrugClass       string   `json:"drug_class"`
	Strength        string   `json:"strength"`
	Form            string   `json:"form"`
	Manufacturer    string   `json:"manufacturer"`
	Price           *float64 `json:"price"`
	IsGeneric       bool     `json:"is_generic"`
	SimilarityScore float64  `json:"similarity_score"`
}

type searchResponse struct {
	Results []candidatePayload `json:"results"`
}

// Search implements knowledge.Source.
func (c *DrugRegistryClient) Search(ctx context.Context, query string, limit int) ([]knowledge.DrugSummary, error) {
	q := url.Values{"search": {query}, "limit": {strconv.Itoa(limit)}}
	var resp searchResponse
	if err := c.client.GetJSON(ctx, "/drug/label.json", q, &resp); err != nil {
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
			Name:         r.Name,
			GenericName:  r.GenericName,
			DrugClass:    r.DrugClass,
			Strength:     r.Strength,
			Form:         r.Form,
			Manufacturer: r.Manufacturer,
		})
	}
	return out, nil
}

// FindAlternatives implements knowledge.Source. Records missing a name
// are dropped at this boundary so merge logic never sees them.
func (c *DrugRegistryClient) FindAlternatives(ctx context.Context, medication string, criteria knowledge.AlternativeCriteria) ([]knowledge.AlternativeCandidate, error) {
	q := url.Values{"search": {medication}}
	if criteria.SameClass {
		q.Set("relation", "class")
	} else {
		q.Set("relation", "indication")
	}

	var resp searchResponse
	if err := c.client.GetJSON(ctx, "/drug/alternatives.json", q, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &knowledge.UnavailableError{Source: c.Tag(), Err: err}
	}

	out := make([]knowledge.AlternativeCandidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Name == "" {
			c.logger.Warn("dropping unnamed registry candidate", zap.String("medication", medication))
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
			SimilarityScore: r.SimilarityScore,
			Sources:         []knowledge.SourceTag{c.Tag()},
		})
	}
	return out, nil
}

type interactionPayload struct {
	Drug1          string  `json:"drug1"`
	Drug2          string  `json:"drug2"`
	Severity       string  `json:"severity"`
	Description    string  `json:"description"`
	Effect         string  `json:"effect"`
	Recommendation string  `json:"recommendation"`
	EvidenceLevel  string  `json:"evidence_level"`
	Confidence     float64 `json:"confidence"`
}

type interactionResponse struct {
	Results []interactionPayload `json:"results"`
}

// GetInteractions implements knowledge.Source. Pairs mentioning drugs
// outside the input set are filtered out.
func (c *DrugRegistryClient) GetInteractions(ctx context.Context, medications []string) ([]knowledge.InteractionRecord, error) {
	if len(medications) < 2 {
		return nil, nil
	}
	q := url.Values{}
	for _, m := range medications {
		q.Add("drug", m)
	}

	var resp interactionResponse
	if err := c.client.GetJSON(ctx, "/drug/interactions.json", q, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &knowledge.UnavailableError{Source: c.Tag(), Err: err}
	}

	inSet := make(map[string]bool, len(medications))
	for _, m := range medications {
		inSet[m] = true
	}

	var out []knowledge.InteractionRecord
	for _, r := range resp.Results {
		if !inSet[r.Drug1] || !inSet[r.Drug2] {
			continue
		}
		evidence := r.EvidenceLevel
		if evidence == "" {
			evidence = "unknown"
		}
		out = append(out, knowledge.InteractionRecord{
			Drug1:          r.Drug1,
			Drug2:          r.Drug2,
			Severity:       knowledge.SeverityLevel(r.Severity),
			Description:    r.Description,
			Effect:         r.Effect,
			Recommendation: r.Recommendation,
			EvidenceLevel:  evidence,
			IsKnown:        true,
			Confidence:     1.0,
		})
	}
	return out, nil
}

type priceResponse struct {
	AveragePrice *float64 `json:"average_price"`
	PriceRange   *struct {
		Low  float64 `json:"low"`
		High float64 `json:"high"`
	} `json:"price_range"`
}

// GetPrice implements knowledge.Pricer.
func (c *DrugRegistryClient) GetPrice(ctx context.Context, medication string) (*float64, *knowledge.PriceRange, error) {
	q := url.Values{"search": {medication}}
	var resp priceResponse
	if err := c.client.GetJSON(ctx, "/drug/pricing.json", q, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, &knowledge.UnavailableError{Source: c.Tag(), Err: err}
	}
	var pr *knowledge.PriceRange
	if resp.PriceRange != nil {
		pr = &knowledge.PriceRange{Low: resp.PriceRange.Low, High: resp.PriceRange.High}
	}
	return resp.AveragePrice, pr, nil
}

// AdverseEvents implements knowledge.SafetyAnnotator. It returns
// reported adverse-event terms for a drug.
func (c *DrugRegistryClient) AdverseEvents(ctx context.Context, medication string, limit int) ([]string, error) {
	q := url.Values{"search": {medication}, "limit": {strconv.Itoa(limit)}}
	var resp struct {
		Results []struct {
			Term string `json:"term"`
		} `json:"results"`
	}
	if err := c.client.GetJSON(ctx, "/drug/event.json", q, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &knowledge.UnavailableError{Source: c.Tag(), Err: err}
	}
	terms := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Term != "" {
			terms = append(terms, r.Term)
		}
	}
	return terms, nil
}

// SearchRecalls implements knowledge.SafetyAnnotator. It returns
// active recall reasons for a product.
func (c *DrugRegistryClient) SearchRecalls(ctx context.Context, product string, limit int) ([]string, error) {
	q := url.Values{"search": {product}, "limit": {strconv.Itoa(limit)}}
	var resp struct {
		Results []struct {
			Description string `json:"product_description"`
			Reason      string `json:"reason_for_recall"`
		} `json:"results"`
	}
	if err := c.client.GetJSON(ctx, "/drug/enforcement.json", q, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &knowledge.UnavailableError{Source: c.Tag(), Err: err}
	}
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Reason != "" {
			out = append(out, r.Reason)
		}
	}
	return out, nil
}
