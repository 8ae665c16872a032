// Package dedupe matches incoming company observations against the
// canonical index and decides merge, create, or escalate-to-review.
package dedupe

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists legal entity suffixes to strip during name
// normalization. Multi-token suffixes come first so "HOLDINGS LTD" is
// removed before a lone "LTD" match would stop the scan.
var legalSuffixes = []string{
	" HOLDINGS LTD", " HOLDINGS LIMITED", " GROUP LTD", " GROUP LIMITED",
	" HOLDINGS", " HOLDING", " GROUP",
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" PLC", " P.L.C.",
	" GMBH", " G.M.B.H.", " MBH",
	" AG", " A.G.",
	" SA", " S.A.", " SA.", " SARL", " S.A.R.L.", " SAS", " S.A.S.",
	" SPA", " S.P.A.", " SRL", " S.R.L.",
	" BV", " B.V.", " NV", " N.V.",
	" AB", " A.B.", " APS", " A/S", " AS", " OY", " OYJ",
	" LP", " L.P.", " LLP", " L.L.P.",
	" CO", " CO.", " KG", " KGAA", " GMBH AND CO KG",
	" UG", " EV", " E.V.",
	" PTY", " PTY LTD",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// foldDiacritics strips combining marks after NFD decomposition, so
// "Müller" and "Muller" normalize identically.
var foldDiacritics = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName standardizes a company name for matching:
//  1. Trim whitespace, uppercase
//  2. Fold diacritics
//  3. Strip legal entity suffixes (possibly stacked, e.g. "Holdings Ltd")
//  4. Strip punctuation, map "&" to "AND"
//  5. Collapse whitespace
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToUpper(name)
	if folded, _, err := transform.String(foldDiacritics, name); err == nil {
		name = folded
	}

	// Strip suffixes until none apply; names like "Acme Holdings Ltd"
	// carry more than one.
	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range legalSuffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSuffix(name, suffix)
				name = strings.TrimSpace(name)
				stripped = true
				break
			}
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
		"(", " ",
		")", " ",
		"/", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeDomain reduces a website URL to its bare domain: scheme,
// "www." prefix, path, and port stripped, lowercased.
func NormalizeDomain(rawURL string) string {
	d := strings.TrimSpace(strings.ToLower(rawURL))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return d
}

// NormalizeCountry uppercases and trims an ISO 3166-1 alpha-2 code.
func NormalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var countryRe = regexp.MustCompile(`^[A-Z]{2}$`)

// ValidCountry reports whether code is a plausible ISO 3166-1 alpha-2
// country code.
func ValidCountry(code string) bool {
	return countryRe.MatchString(code)
}
