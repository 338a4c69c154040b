package notion

import (
	"net/url"
	"regexp"
	"strings"
)

// Locator is the canonical scope parsed from a Notion URL: either a page id
// or a database id, in 8-4-4-4-12 hyphenated form.
type Locator struct {
	PageID     string
	DatabaseID string
}

var hexIDPattern = regexp.MustCompile(`(?i)([a-f0-9]{32})`)

// ParseURL extracts the page or database id from a Notion URL. Database view
// URLs (carrying a ?v= parameter) yield a database id; everything else with
// a 32-hex-character id yields a page id. Returns nil when no id is found.
//
//	https://www.notion.so/Page-Title-abc123...        page
//	https://www.notion.so/workspace/Title-abc123...   page
//	https://www.notion.so/abc123...?v=...             database view
func ParseURL(raw string) *Locator {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	// Ids may appear hyphenated inside the slug; strip hyphens before
	// matching, then reformat canonically.
	m := hexIDPattern.FindStringSubmatch(strings.ReplaceAll(u.Path, "-", ""))
	if m == nil {
		return nil
	}
	id := CanonicalID(strings.ToLower(m[1]))

	if u.Query().Has("v") {
		return &Locator{DatabaseID: id}
	}
	return &Locator{PageID: id}
}

// CanonicalID reformats a 32-hex-character id as 8-4-4-4-12. Other inputs
// are returned unchanged.
func CanonicalID(id string) string {
	if len(id) != 32 {
		return id
	}
	return id[:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:]
}
