package extraction

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/domain/rx"
)

// defaultMedications is the built-in medication lexicon. A production
// deployment replaces this with the full formulary loaded at startup.
var defaultMedications = []string{
	"acetaminophen", "paracetamol", "ibuprofen", "aspirin", "amoxicillin",
	"lisinopril", "metformin", "atorvastatin", "levothyroxine", "amlodipine",
	"metoprolol", "albuterol", "omeprazole", "losartan", "gabapentin",
	"hydrochlorothiazide", "sertraline", "fluoxetine", "montelukast",
	"pantoprazole", "warfarin", "loratadine", "naproxen", "ampicillin",
}

var (
	dosePattern      = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:mg|g|ml|mcg|IU)\b`)
	// Strength is a concentration, not an amount to take: mg per ml,
	// per tablet, or a percentage.
	strengthPattern = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:mg|mcg|g)\s*/\s*(?:\d+(?:\.\d+)?\s*)?(?:ml|tablet|capsule|dose|actuation)\b|\b\d+(?:\.\d+)?\s*%`)
	frequencyPattern = regexp.MustCompile(`(?i)\b(?:once|twice|one|two|three|four|five|six|\d+(?:-\d+)?)\s+times?\s+(?:(?:a|per)\s+)?(?:day|daily|week|weekly|month|monthly|hour|night|evening|morning|noon)\b|\b(?:once|twice)\s+(?:daily|a\s+day|weekly)\b|\bevery\s+\d+\s+hours?(?:\s+as\s+needed)?\b`)
	durationPattern  = regexp.MustCompile(`(?i)\bfor\s+(\d+(?:-\d+)?\s*(?:days?|weeks?|months?|years?))\b`)
	routePattern     = regexp.MustCompile(`(?i)\b(oral(?:ly)?|IV|intravenous|topical|sublingual|subcutaneous|intramuscular|rectal|inhaled)\b`)

	// Name continuations stay on one line; \s would leak into the
	// next OCR line.
	doctorPattern    = regexp.MustCompile(`\bDr\.?[ \t]+[A-Z][A-Za-z]+(?:[ \t]+[A-Z][A-Za-z]+)?`)
	patientPattern   = regexp.MustCompile(`(?i)\bpatient[ \t]*:?[ \t]+([A-Z][A-Za-z]+(?:[ \t]+[A-Z][A-Za-z]+)*)`)
	datePattern      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	agePattern       = regexp.MustCompile(`(?i)\bage\s*:?\s*(\d{1,3})\b`)
	dobPattern       = regexp.MustCompile(`(?i)\bDOB\s*:?\s*([\d/.-]+)`)
	idPattern        = regexp.MustCompile(`(?i)\b(?:MRN|ID)\s*[:#]\s*([A-Za-z0-9-]+)`)
	diagnosisPattern = regexp.MustCompile(`(?i)\b(?:diagnosis|dx)\s*:?\s*([^\n]+)`)
	emailPattern     = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern     = regexp.MustCompile(`\b(?:\+\d{1,2}\s?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	orgPattern       = regexp.MustCompile(`\b[A-Z][A-Za-z]*(?:[ \t]+[A-Z][A-Za-z]*)*[ \t]+(?:Clinic|Hospital|Medical Center|Pharmacy)\b`)
	instructionLine  = regexp.MustCompile(`(?im)\b(take\s[^\n.;]+|apply\s[^\n.;]+|with\s+food|before\s+meals?|after\s+meals?|avoid\s+alcohol|as\s+needed(?:\s+for\s+[^\n.;]+)?)`)
)

// LexiconExtractor is the reference Extractor. It combines a
// medication lexicon with pattern matching for dosage, frequency,
// duration, route, people and dates. The handwritten flag relaxes
// lexicon matching to tolerate dropped word boundaries.
type LexiconExtractor struct {
	medications []string
	medPatterns []*regexp.Regexp
	logger      *zap.Logger
}

// NewLexiconExtractor builds an extractor over the given lexicon.
// A nil or empty lexicon falls back to the built-in list.
func NewLexiconExtractor(medications []string, logger *zap.Logger) *LexiconExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(medications) == 0 {
		medications = defaultMedications
	}
	patterns := make([]*regexp.Regexp, len(medications))
	for i, med := range medications {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(med) + `\b`)
	}
	return &LexiconExtractor{
		medications: medications,
		medPatterns: patterns,
		logger:      logger,
	}
}

// Extract implements Extractor. It is a pure function over its inputs
// and the configured lexicon.
func (e *LexiconExtractor) Extract(ctx context.Context, text, language string, handwritten bool) (rx.SpanSet, error) {
	if _, ok := normalizeText(text); !ok {
		return rx.SpanSet{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Reason: "context cancelled", Err: err}
	}

	spans := rx.SpanSet{}

	e.extractMedications(text, handwritten, spans)
	addMatches(spans, rx.KindDosage, dosePattern, text, 0)
	addMatches(spans, rx.KindStrength, strengthPattern, text, 0)
	addMatches(spans, rx.KindFrequency, frequencyPattern, text, 0)
	addMatches(spans, rx.KindDuration, durationPattern, text, 1)
	addMatches(spans, rx.KindRoute, routePattern, text, 0)
	addMatches(spans, rx.KindDoctor, doctorPattern, text, 0)
	addMatches(spans, rx.KindPatient, patientPattern, text, 1)
	addMatches(spans, rx.KindDate, datePattern, text, 0)
	addMatches(spans, rx.KindAge, agePattern, text, 1)
	addMatches(spans, rx.KindDOB, dobPattern, text, 1)
	addMatches(spans, rx.KindID, idPattern, text, 1)
	addMatches(spans, rx.KindDiagnosis, diagnosisPattern, text, 1)
	addMatches(spans, rx.KindOrganization, orgPattern, text, 0)
	addMatches(spans, rx.KindInstruction, instructionLine, text, 1)
	addMatches(spans, rx.KindContact, emailPattern, text, 0)
	addMatches(spans, rx.KindContact, phonePattern, text, 0)

	e.logger.Debug("entities extracted",
		zap.String("language", language),
		zap.Bool("handwritten", handwritten),
		zap.Int("medications", len(spans[rx.KindMedication])))

	return spans, nil
}

func (e *LexiconExtractor) extractMedications(text string, handwritten bool, spans rx.SpanSet) {
	seen := map[int]bool{}
	for _, pattern := range e.medPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			if seen[loc[0]] {
				continue
			}
			seen[loc[0]] = true
			spans[rx.KindMedication] = append(spans[rx.KindMedication], rx.EntitySpan{
				Kind:  rx.KindMedication,
				Text:  text[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	if handwritten {
		// Handwriting OCR often drops spaces; allow lexicon hits inside
		// run-together words.
		lower := strings.ToLower(text)
		for _, med := range e.medications {
			idx := strings.Index(lower, med)
			for idx >= 0 {
				if !seen[idx] {
					seen[idx] = true
					spans[rx.KindMedication] = append(spans[rx.KindMedication], rx.EntitySpan{
						Kind:  rx.KindMedication,
						Text:  text[idx : idx+len(med)],
						Start: idx,
						End:   idx + len(med),
					})
				}
				next := strings.Index(lower[idx+1:], med)
				if next < 0 {
					break
				}
				idx = idx + 1 + next
			}
		}
	}
	sort.SliceStable(spans[rx.KindMedication], func(i, j int) bool {
		return spans[rx.KindMedication][i].Start < spans[rx.KindMedication][j].Start
	})
}

// addMatches appends all matches of pattern to the span set. When
// group > 0, the span text and position come from that capture group.
func addMatches(spans rx.SpanSet, kind rx.EntityKind, pattern *regexp.Regexp, text string, group int) {
	for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if group > 0 && 2*group+1 < len(loc) && loc[2*group] >= 0 {
			start, end = loc[2*group], loc[2*group+1]
		}
		if start < 0 || start >= end {
			continue
		}
		spans[kind] = append(spans[kind], rx.EntitySpan{
			Kind:  kind,
			Text:  strings.TrimSpace(text[start:end]),
			Start: start,
			End:   end,
		})
	}
}
