package lexml

import (
	"fmt"
	"strings"
)

// DefaultDocumentType restricts broadened searches to case law.
const DefaultDocumentType = "jurisprudencia"

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a o os as da das do dos de e em para com por que não se um uma
		na no como mais sobre pelo pela quero gostaria posso poderia preciso seria fazer
		maneira forma correta isso`) {
		stopWords[w] = struct{}{}
	}
}

// legalKeywords are tried, in order, when the query keywords find nothing.
var legalKeywords = []string{"sociedade", "sócio", "direito", "empresarial", "jurisprudencia", "tribunal"}

var punctuation = strings.NewReplacer("?", "", ".", "", ",", "")

func words(term string) []string {
	return strings.Fields(punctuation.Replace(strings.ToLower(term)))
}

// Keywords returns the distinct non stop words longer than three characters,
// in order of appearance.
func Keywords(term string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range words(term) {
		if _, stop := stopWords[w]; stop || len([]rune(w)) <= 3 {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// BuildCQL joins the first two keywords with AND. Without keywords it
// searches by document type alone.
func BuildCQL(term string) string {
	kw := Keywords(term)
	switch {
	case len(kw) >= 2:
		return fmt.Sprintf("(%s AND %s)", kw[0], kw[1])
	case len(kw) == 1:
		return kw[0]
	default:
		return typeFilter(DefaultDocumentType)
	}
}

func typeFilter(docType string) string {
	return fmt.Sprintf("tipoDocumento exact %q", docType)
}

func withType(q, docType string) string {
	if docType == "" {
		return q
	}
	return q + " AND " + typeFilter(docType)
}

// Fallbacks returns the broadening queries tried in order after the primary
// query finds nothing.
func Fallbacks(term, docType string) []string {
	var out []string
	if strings.TrimSpace(term) != "" {
		for _, w := range words(term) {
			if len([]rune(w)) > 4 {
				out = append(out, withType(w, docType))
				break
			}
		}
		lower := strings.ToLower(term)
		for _, k := range legalKeywords {
			if strings.Contains(lower, k) {
				out = append(out, withType(k, docType))
				break
			}
		}
	}
	if docType != "" {
		out = append(out, typeFilter(docType))
	}
	return append(out, "direito")
}
