// Package knowledge defines the uniform capability contract answered
// by every drug knowledge source, plus the record types flowing
// through the aggregators. Loosely-shaped upstream payloads are
// validated into these closed types at the source boundary so merge
// logic never touches untyped maps.
package knowledge

import "strings"

// SourceTag identifies the provenance of a record.
type SourceTag string

const (
	SourceKnowledgeGraph     SourceTag = "knowledge_graph"
	SourceDrugRegistry       SourceTag = "drug_registry"
	SourceEssentialMedicines SourceTag = "essential_medicines"
	SourcePredicted          SourceTag = "predicted"
)

// AlternativeCriteria filters alternative lookups.
type AlternativeCriteria struct {
	SameClass      bool
	IncludeGeneric bool
	IncludeBrand   bool
}

// DefaultCriteria matches same-class drugs, generic and brand alike.
func DefaultCriteria() AlternativeCriteria {
	return AlternativeCriteria{SameClass: true, IncludeGeneric: true, IncludeBrand: true}
}

// DrugSummary is a search result row.
type DrugSummary struct {
	Name         string `json:"name"`
	GenericName  string `json:"generic_name,omitempty"`
	DrugClass    string `json:"drug_class,omitempty"`
	Strength     string `json:"strength,omitempty"`
	Form         string `json:"form,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

// ATCClassification is an Anatomical Therapeutic Chemical code lookup
// result.
type ATCClassification struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// PriceRange bounds observed retail prices.
type PriceRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// InsuranceCoverage describes formulary coverage for one medication.
type InsuranceCoverage struct {
	Covered            bool    `json:"covered"`
	Tier               int     `json:"tier,omitempty"`
	CoveragePercentage float64 `json:"coverage_percentage,omitempty"`
	Copay              float64 `json:"copay,omitempty"`
	HasCopay           bool    `json:"has_copay,omitempty"`
	PriorAuthorization bool    `json:"prior_authorization,omitempty"`
	PartialMatch       bool    `json:"partial_match,omitempty"`
}

// AlternativeCandidate is one therapeutic alternative for a
// medication. Candidates are mutated in place during merge (absent
// fields filled from later sources) and during cost optimization.
type AlternativeCandidate struct {
	Name            string             `json:"name"`
	GenericName     string             `json:"generic_name,omitempty"`
	DrugClass       string             `json:"drug_class,omitempty"`
	Strength        string             `json:"strength,omitempty"`
	Form            string             `json:"form,omitempty"`
	Manufacturer    string             `json:"manufacturer,omitempty"`
	Price           *float64           `json:"price,omitempty"`
	PriceRange      *PriceRange        `json:"price_range,omitempty"`
	IsGeneric       bool               `json:"is_generic"`
	IsEssential     bool               `json:"is_essential"`
	SimilarityScore float64            `json:"similarity_score"`
	Sources         []SourceTag        `json:"sources"`
	Warnings        []string           `json:"warnings,omitempty"`
	Coverage        *InsuranceCoverage `json:"coverage,omitempty"`
	OutOfPocket     *float64           `json:"out_of_pocket,omitempty"`
}

// SeverityLevel ranks drug-interaction danger.
type SeverityLevel string

const (
	SeverityHigh     SeverityLevel = "High"
	SeverityModerate SeverityLevel = "Moderate"
	SeverityLow      SeverityLevel = "Low"
	SeverityUnknown  SeverityLevel = "Unknown"
)

// Ordinal returns the fixed severity ordering High > Moderate > Low >
// Unknown. Unrecognized values rank with Unknown.
func (s SeverityLevel) Ordinal() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityModerate:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// InteractionRecord describes one pairwise drug interaction. The
// identity key is the unordered drug pair.
type InteractionRecord struct {
	Drug1          string        `json:"drug1"`
	Drug2          string        `json:"drug2"`
	Severity       SeverityLevel `json:"severity"`
	Description    string        `json:"description"`
	Effect         string        `json:"effect,omitempty"`
	Recommendation string        `json:"recommendation,omitempty"`
	EvidenceLevel  string        `json:"evidence_level"`
	IsKnown        bool          `json:"is_known"`
	Confidence     float64       `json:"confidence,omitempty"`
}

// PairKey returns the sorted drug pair used for deduplication.
func (r *InteractionRecord) PairKey() [2]string {
	return PairKey(r.Drug1, r.Drug2)
}

// PairKey sorts two drug names into a stable pair key.
func PairKey(a, b string) [2]string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return [2]string{a, b}
}
