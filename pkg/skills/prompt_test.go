package skills

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestPackages(n int, descriptionLen int) []*DiscoveredPackage {
	var packages []*DiscoveredPackage
	for i := 0; i < n; i++ {
		packages = append(packages, &DiscoveredPackage{
			Package: Package{Manifest: &Manifest{
				Name:        fmt.Sprintf("skill-%02d", i),
				Description: strings.Repeat("d", descriptionLen),
			}},
			Source: SourceUser,
		})
	}
	return packages
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("éééé"), "counts characters, not bytes")
}

func TestFormatDigest(t *testing.T) {
	assert.Equal(t, "", FormatDigest(nil))

	packages := []*DiscoveredPackage{
		{Package: Package{Manifest: &Manifest{Name: "pdf", Description: `Read <PDF> & "forms"`}}},
		{Package: Package{Manifest: &Manifest{Name: "git", Description: "Git helper"}}},
	}
	expected := "<available_skills>\n" +
		"<skill>\n<name>pdf</name>\n<description>Read &lt;PDF&gt; &amp; &#34;forms&#34;</description>\n</skill>\n" +
		"<skill>\n<name>git</name>\n<description>Git helper</description>\n</skill>\n" +
		"</available_skills>"
	assert.Equal(t, expected, FormatDigest(packages))
}

func TestBuildDigestWithinBudget(t *testing.T) {
	packages := digestPackages(3, 20)

	digest := BuildDigest(packages, 0)
	assert.False(t, digest.Truncated)
	assert.Equal(t, 3, digest.Included)
	assert.Equal(t, 3, digest.Total)
	assert.Equal(t, FormatDigest(packages), digest.Content)
	assert.Equal(t, EstimateTokens(digest.Content), digest.Tokens)
	assert.LessOrEqual(t, digest.Tokens, DefaultTokenBudget)
}

func TestBuildDigestTruncates(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		descr  int
		budget int
	}{
		{name: "default budget", n: 40, descr: 200, budget: 0},
		{name: "small budget", n: 10, descr: 300, budget: 250},
		{name: "budget larger than package estimate", n: 5, descr: 1000, budget: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packages := digestPackages(tt.n, tt.descr)
			budget := tt.budget
			if budget <= 0 {
				budget = DefaultTokenBudget
			}
			require.Greater(t, EstimateTokens(FormatDigest(packages)), budget)

			digest := BuildDigest(packages, tt.budget)
			assert.True(t, digest.Truncated)
			assert.Less(t, digest.Included, tt.n)
			assert.Equal(t, tt.n, digest.Total)
			assert.LessOrEqual(t, digest.Tokens, budget)
			assert.Equal(t, FormatDigest(packages[:digest.Included]), digest.Content)

			again := BuildDigest(packages, tt.budget)
			assert.Equal(t, digest, again)
		})
	}
}

func TestBuildDigestNothingFits(t *testing.T) {
	packages := digestPackages(3, 2000)

	digest := BuildDigest(packages, 100)
	assert.True(t, digest.Truncated)
	assert.Equal(t, 0, digest.Included)
	assert.Equal(t, "", digest.Content)
	assert.Equal(t, 0, digest.Tokens)
}
