package contracts

import "strings"

// NormalizeCounterparty folds a counterparty's free-text legal name into a
// stable key: lowercased, trimmed, common corporate suffixes stripped, and
// internal whitespace collapsed. Two PDFs spelling a counterparty
// "Ammonia Traders Intl., LLC" and "AMMONIA TRADERS INTL LLC" must resolve
// to the same canonical key.
func NormalizeCounterparty(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',':
			return -1
		}
		return r
	}, s)
	fields := strings.Fields(s)
	fields = stripTrailingSuffixes(fields)
	return strings.Join(fields, " ")
}

var corporateSuffixes = map[string]bool{
	"llc": true, "inc": true, "ltd": true, "limited": true,
	"corp": true, "corporation": true, "gmbh": true, "sa": true,
	"plc": true, "co": true, "company": true, "intl": true,
	"international": true,
}

// stripTrailingSuffixes removes a trailing run of corporate-suffix tokens,
// e.g. ["acme", "intl", "llc"] -> ["acme"].
func stripTrailingSuffixes(fields []string) []string {
	for len(fields) > 1 && corporateSuffixes[fields[len(fields)-1]] {
		fields = fields[:len(fields)-1]
	}
	return fields
}
