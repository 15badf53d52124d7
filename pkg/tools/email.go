package tools

import "strings"

// Applied in order, each over the whole string.
var spokenSymbols = []struct{ phrase, symbol string }{
	{" at the rate of ", "@"},
	{" at the rate ", "@"},
	{" at rate ", "@"},
	{" at ", "@"},
	{" eta ", "@"},
	{" dot ", "."},
	{" period ", "."},
}

var domainTypos = map[string]string{
	"gmial":  "gmail",
	"gmal":   "gmail",
	"gmai":   "gmail",
	"yaho":   "yahoo",
	"hotmal": "hotmail",
}

var tldTypos = map[string]string{
	"con":  "com",
	"coom": "com",
}

// NormalizeEmail converts a transcribed, spoken email address into its
// written form and fixes common domain misspellings.
func NormalizeEmail(raw string) string {
	s := " " + strings.ToLower(strings.TrimSpace(raw)) + " "
	for _, r := range spokenSymbols {
		for strings.Contains(s, r.phrase) {
			s = strings.Replace(s, r.phrase, " "+r.symbol+" ", 1)
		}
	}
	s = strings.Join(strings.Fields(s), "")

	at := strings.LastIndex(s, "@")
	if at < 0 {
		return s
	}
	labels := strings.Split(s[at+1:], ".")
	if fixed, ok := domainTypos[labels[0]]; ok {
		labels[0] = fixed
	}
	if last := len(labels) - 1; last > 0 {
		if fixed, ok := tldTypos[labels[last]]; ok {
			labels[last] = fixed
		}
	}
	return s[:at+1] + strings.Join(labels, ".")
}

// ValidEmail is a best-effort check: an "@" followed by a domain that
// contains a dot. Spoken addresses are noisy, so nothing stricter is applied.
func ValidEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return false
	}
	domain := email[at+1:]
	dot := strings.Index(domain, ".")
	return dot > 0 && dot < len(domain)-1
}
