// Package preprocess turns fetched web and jurisprudence text into clean
// snippet text.
package preprocess

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// CleanBasic removes control characters, common OCR artifacts and repeated
// blank space.
func CleanBasic(text string) string {
	if text == "" {
		return ""
	}

	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	b = artifacts.Replace(b)
	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")

	return strings.TrimSpace(b)
}

var artifacts = strings.NewReplacer(
	"ﬁ", "fi", "ﬂ", "fl",
	" ", " ",
	"·", ".", "•", "-",
)

// HTMLToText extracts headings, paragraphs, list items and tables. Script,
// style and navigation elements are dropped.
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,nav,footer,header,aside,form").Remove()

	var out []string
	doc.Find("h1,h2,h3,h4,p,li,blockquote,table").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" && goquery.NodeName(s) != "table" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			out = append(out, "# "+text)
		case "h2":
			out = append(out, "## "+text)
		case "h3", "h4":
			out = append(out, "### "+text)
		case "li":
			out = append(out, "- "+text)
		case "blockquote":
			out = append(out, "> "+text)
		case "table":
			if t := parseTable(s); t != "" {
				out = append(out, t)
			}
		default:
			out = append(out, text)
		}
	})
	return strings.Join(out, "\n\n"), nil
}

func parseTable(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(j int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// RemoveDuplicateParagraphs drops paragraphs already seen verbatim.
func RemoveDuplicateParagraphs(text string) string {
	parts := strings.Split(text, "\n\n")
	seen := make(map[string]struct{}, len(parts))
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, "\n\n")
}

// noisePatterns are lowercase fragments of boilerplate lines on Brazilian
// legal portals and news sites.
var noisePatterns = []string{
	"cookie",
	"política de privacidade",
	"politica de privacidade",
	"todos os direitos reservados",
	"compartilhe",
	"leia também",
	"publicidade",
	"assine nossa newsletter",
	"clique aqui",
	"privacy policy",
	"all rights reserved",
}

// RemoveWebNoise drops lines that contain known boilerplate.
func RemoveWebNoise(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		lower := strings.ToLower(l)
		skip := false
		for _, p := range noisePatterns {
			if strings.Contains(lower, p) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Preprocess runs the full cleaning pipeline on plain text.
func Preprocess(raw string) string {
	t := CleanBasic(raw)
	t = RemoveWebNoise(t)
	return RemoveDuplicateParagraphs(t)
}

// Snippet cleans text that may contain HTML markup. Plain text passes
// through Preprocess unchanged in structure.
func Snippet(raw string) string {
	if strings.Contains(raw, "<") && strings.Contains(raw, ">") {
		if text, err := HTMLToText(raw); err == nil && strings.TrimSpace(text) != "" {
			return Preprocess(text)
		}
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			return Preprocess(doc.Text())
		}
	}
	return Preprocess(raw)
}
