package portal

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxPageDescription = 200

// DescribePage returns a short human-readable summary of an HTML answer from
// the portal: the validation summary when present, else the title, else the
// first heading. Returns "" for non-HTML bodies.
func DescribePage(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	selectors := []string{
		".validation-summary-errors",
		".alert-danger",
		"title",
		"h1",
		"h2",
	}
	for _, selector := range selectors {
		text := collapseWhitespace(doc.Find(selector).First().Text())
		if text != "" {
			return truncate(text, maxPageDescription)
		}
	}
	return ""
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-3]) + "..."
}
