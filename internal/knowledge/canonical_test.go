package knowledge

import (
	"math"
	"testing"
)

func TestCanonicalNameExact(t *testing.T) {
	if CanonicalName("Amoxicillin", NameExact) != "Amoxicillin" {
		t.Error("exact mode must not change the name")
	}
	if CanonicalName("Amoxicillin", NameExact) == CanonicalName("amoxicillin", NameExact) {
		t.Error("exact mode keeps case-variant names distinct")
	}
}

func TestCanonicalNameFolded(t *testing.T) {
	cases := [][2]string{
		{"Amoxicillin", "amoxicillin"},
		{"  Ibuprofen ", "ibuprofen"},
		{"Amoxicilline", "amoxicilline"},
		{"Ibuprofén", "ibuprofen"},
	}
	for _, c := range cases {
		if got := CanonicalName(c[0], NameFolded); got != c[1] {
			t.Errorf("CanonicalName(%q) = %q, want %q", c[0], got, c[1])
		}
	}
}

func TestBigramSimilarity(t *testing.T) {
	if got := BigramSimilarity("aspirin", "aspirin"); got != 1.0 {
		t.Errorf("identical names = %v, want 1.0", got)
	}
	if got := BigramSimilarity("aspirin", "warfarin"); got <= 0 || got >= 1 {
		t.Errorf("related names = %v, want in (0,1)", got)
	}
	if got := BigramSimilarity("a", "aspirin"); got != 0 {
		t.Errorf("single-char name = %v, want 0", got)
	}
	if got := BigramSimilarity("", ""); got != 0 {
		t.Errorf("empty names = %v, want 0", got)
	}
}

func TestOverlapRatio(t *testing.T) {
	if got := OverlapRatio([]string{"a", "b"}, []string{"b", "c"}); got != 1.0/3.0 {
		t.Errorf("overlap = %v, want 1/3", got)
	}
	if got := OverlapRatio(nil, nil); got != 0 {
		t.Errorf("empty sets = %v, want 0", got)
	}
	if got := OverlapRatio([]string{"a"}, []string{"a", "a"}); got != 1.0 {
		t.Errorf("duplicate elements = %v, want 1.0", got)
	}
}

func TestBlendedSimilarityWeights(t *testing.T) {
	// Full class overlap, no indication overlap: 0.6*1 + 0.4*0.
	got := BlendedSimilarity(
		[]string{"nsaid"}, []string{"nsaid"},
		[]string{"pain"}, []string{"fever"},
	)
	if math.Abs(got-0.6) > 1e-9 {
		t.Errorf("blend = %v, want 0.6", got)
	}

	// No class overlap, full indication overlap: 0.4.
	got = BlendedSimilarity(
		[]string{"nsaid"}, []string{"statin"},
		[]string{"pain"}, []string{"pain"},
	)
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("blend = %v, want 0.4", got)
	}
}

func TestPairKeyIsOrderInsensitive(t *testing.T) {
	if PairKey("warfarin", "aspirin") != PairKey("aspirin", "warfarin") {
		t.Error("pair key must not depend on argument order")
	}
	rec := InteractionRecord{Drug1: "warfarin", Drug2: "aspirin"}
	if rec.PairKey() != [2]string{"aspirin", "warfarin"} {
		t.Errorf("PairKey() = %v, want sorted pair", rec.PairKey())
	}
}

func TestSeverityOrdinal(t *testing.T) {
	order := []SeverityLevel{SeverityHigh, SeverityModerate, SeverityLow, SeverityUnknown}
	for i := 0; i+1 < len(order); i++ {
		if order[i].Ordinal() <= order[i+1].Ordinal() {
			t.Errorf("%s should outrank %s", order[i], order[i+1])
		}
	}
	if SeverityLevel("garbage").Ordinal() != SeverityUnknown.Ordinal() {
		t.Error("unrecognized severity ranks with Unknown")
	}
}
