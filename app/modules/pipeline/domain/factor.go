package pipelinedomain

import "strings"

// Factor is one independently computed scoring input.
type Factor uint8

const (
	FactorWords Factor = 1 << iota
	FactorGrammar
	FactorFluency
	FactorContent
	FactorImage
	FactorScore
	FactorSimilarity
)

var factorNames = []struct {
	f    Factor
	name string
}{
	{FactorWords, "words"},
	{FactorGrammar, "grammar"},
	{FactorFluency, "fluency"},
	{FactorContent, "content"},
	{FactorImage, "image"},
	{FactorScore, "score"},
	{FactorSimilarity, "similarity"},
}

func (f Factor) String() string {
	for _, n := range factorNames {
		if n.f == f {
			return n.name
		}
	}
	return "unknown"
}

// FactorSet records which factors of a generation have been computed.
type FactorSet uint8

// FactorsOf builds a set from individual factors.
func FactorsOf(factors ...Factor) FactorSet {
	var s FactorSet
	for _, f := range factors {
		s |= FactorSet(f)
	}
	return s
}

func (s FactorSet) Has(f Factor) bool { return s&FactorSet(f) != 0 }

// MarkComplete sets f and reports whether it was newly set. Marking an
// already-complete factor leaves the set untouched and returns false.
func (s *FactorSet) MarkComplete(f Factor) bool {
	if s.Has(f) {
		return false
	}
	*s |= FactorSet(f)
	return true
}

// Covers reports whether every factor of required is present in s.
func (s FactorSet) Covers(required FactorSet) bool { return s&required == required }

// Missing lists the factors of required that s lacks, in declaration order.
func (s FactorSet) Missing(required FactorSet) []Factor {
	var out []Factor
	for _, n := range factorNames {
		if required.Has(n.f) && !s.Has(n.f) {
			out = append(out, n.f)
		}
	}
	return out
}

func (s FactorSet) Words() bool      { return s.Has(FactorWords) }
func (s FactorSet) Grammar() bool    { return s.Has(FactorGrammar) }
func (s FactorSet) Fluency() bool    { return s.Has(FactorFluency) }
func (s FactorSet) Content() bool    { return s.Has(FactorContent) }
func (s FactorSet) Image() bool      { return s.Has(FactorImage) }
func (s FactorSet) Score() bool      { return s.Has(FactorScore) }
func (s FactorSet) Similarity() bool { return s.Has(FactorSimilarity) }

func (s FactorSet) String() string {
	var parts []string
	for _, n := range factorNames {
		if s.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}
