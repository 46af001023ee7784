package skills

import (
	"bytes"
	"encoding/xml"
	"strings"
	"unicode/utf8"
)

// Token budgeting constants for the metadata digest.
const (
	DefaultTokenBudget = 1000
	// TokensPerPackage is the approximate digest cost of one package, used to
	// size the prefix kept when the digest is over budget.
	TokensPerPackage = 100
)

// Digest is the rendered metadata listing of a set of packages.
type Digest struct {
	Content   string
	Tokens    int
	Included  int
	Total     int
	Truncated bool
}

// EstimateTokens approximates the token count of text at four characters per
// token, rounded up.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// FormatDigest renders name and description of each package as an escaped
// XML listing. An empty slice renders as the empty string.
func FormatDigest(packages []*DiscoveredPackage) string {
	if len(packages) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<available_skills>\n")
	for _, p := range packages {
		sb.WriteString("<skill>\n<name>")
		sb.WriteString(escape(p.Manifest.Name))
		sb.WriteString("</name>\n<description>")
		sb.WriteString(escape(p.Manifest.Description))
		sb.WriteString("</description>\n</skill>\n")
	}
	sb.WriteString("</available_skills>")
	return sb.String()
}

// BuildDigest renders the digest and, when its estimate exceeds budget, keeps
// the longest prefix of packages that fits. The prefix length starts from
// budget/TokensPerPackage and shrinks until the rendered estimate fits, so a
// truncated digest always holds fewer packages than were given. A budget of
// zero or less selects DefaultTokenBudget.
func BuildDigest(packages []*DiscoveredPackage, budget int) Digest {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	content := FormatDigest(packages)
	tokens := EstimateTokens(content)
	if tokens <= budget {
		return Digest{Content: content, Tokens: tokens, Included: len(packages), Total: len(packages)}
	}

	limit := budget / TokensPerPackage
	if limit >= len(packages) {
		limit = len(packages) - 1
	}
	for limit > 0 {
		content = FormatDigest(packages[:limit])
		tokens = EstimateTokens(content)
		if tokens <= budget {
			break
		}
		limit--
	}
	if limit <= 0 {
		return Digest{Total: len(packages), Truncated: true}
	}

	return Digest{
		Content:   content,
		Tokens:    tokens,
		Included:  limit,
		Total:     len(packages),
		Truncated: true,
	}
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
