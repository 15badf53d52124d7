package voice

import "strings"

// DefaultFillers are acknowledgements that never count as a caller turn.
var DefaultFillers = []string{
	"okay.", "okay", "ok", "uh", "hmm", "hm", "yeah", "yes", "no", "um", "ah", "oh",
	"right", "sure", "fine", "good", "haan", "han", "theek", "theek hai", "accha", "ji", "ha",
}

// FillerSet matches normalized utterances against filler words.
type FillerSet map[string]struct{}

// NewFillerSet builds a set from words; nil or empty input yields DefaultFillers.
func NewFillerSet(words []string) FillerSet {
	if len(words) == 0 {
		words = DefaultFillers
	}
	set := make(FillerSet, len(words))
	for _, w := range words {
		set[normalize(w)] = struct{}{}
	}
	return set
}

// Contains reports whether text is only a filler word.
func (f FillerSet) Contains(text string) bool {
	_, ok := f[normalize(text)]
	return ok
}

// normalize trims, lower-cases and strips trailing periods.
func normalize(text string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(text)), ".")
}
