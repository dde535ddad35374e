package chunking

import (
	"regexp"
	"strings"
	"time"

	"ecm/pkg/types"
)

// Transition is the classification of the boundary between two adjacent
// chunks.
type Transition struct {
	Score float64
	Type  types.EdgeType // EdgeContinuation or EdgeTopicShift
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "have": true, "are": true, "was": true,
	"were": true, "you": true, "your": true, "will": true, "would": true,
	"can": true, "could": true, "not": true, "but": true, "has": true,
}

// DetectTransition classifies the transition from prev to cur, given the
// wall-clock gap between them, per the continuation-score formula:
// s = 0.5 − 0.4·shift + 0.3·cont + 0.2·pathOverlap + 0.15·kwOverlap − gapPenalty
func DetectTransition(prev, cur *types.Chunk, gap time.Duration) Transition {
	shift := 0.0
	if matchesAny(topicShiftPatterns, cur.Text) {
		shift = 1
	}
	cont := 0.0
	if matchesAny(continuationPatterns, cur.Text) {
		cont = 1
	}

	po := jaccard(toSet(prev.Metadata.FilePaths), toSet(cur.Metadata.FilePaths))
	ko := keywordOverlap(prev.Text, cur.Text)

	gapPenalty := 0.0
	switch {
	case gap > 30*time.Minute:
		gapPenalty = 0.25
	case gap > 10*time.Minute:
		gapPenalty = 0.1
	}

	s := 0.5 - 0.4*shift + 0.3*cont + 0.2*po + 0.15*ko - gapPenalty
	s = clamp01(s)

	t := types.EdgeTopicShift
	if s >= 0.5 {
		t = types.EdgeContinuation
	}
	return Transition{Score: s, Type: t}
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func keywordOverlap(a, b string) float64 {
	return jaccard(keywordSet(a), keywordSet(b))
}

func keywordSet(text string) map[string]bool {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if len(tok) <= 3 || stopwords[tok] {
			continue
		}
		set[tok] = true
	}
	return set
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
