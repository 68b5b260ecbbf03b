package skills

import (
	"context"
	"sort"
	"strings"

	"github.com/docpilot/docpilot/pkg/logger"
)

// DefaultMinScore is the default relevance threshold for Search.
const DefaultMinScore = 40

// englishStopWords are dropped during query tokenization.
var englishStopWords = map[string]struct{}{
	"i": {}, "me": {}, "my": {}, "want": {}, "need": {}, "how": {},
	"what": {}, "when": {}, "where": {}, "who": {}, "give": {}, "show": {},
	"tell": {}, "the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {},
	"by": {}, "from": {}, "about": {}, "as": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "being": {},
}

// cjkStopWords are common function words dropped from CJK queries.
var cjkStopWords = map[string]struct{}{
	"的": {}, "了": {}, "在": {}, "是": {}, "我": {}, "有": {}, "和": {},
	"就": {}, "不": {}, "人": {}, "都": {}, "一": {}, "一个": {}, "上": {},
	"也": {}, "很": {}, "到": {}, "说": {}, "要": {}, "去": {}, "你": {},
	"会": {}, "着": {}, "没有": {}, "看": {}, "好": {}, "自己": {}, "这": {},
}

// Search ranks registered skills against a free-text query using keyword
// matching and returns those scoring at or above minScore, ordered by
// descending score with catalog order as the tie-break. This is a heuristic
// fallback for when the model-driven matcher yields no result.
func (r *Registry) Search(ctx context.Context, query string, minScore int) []*Metadata {
	queryLower := strings.ToLower(query)
	keywords := extractKeywords(queryLower)

	type scored struct {
		skill *Metadata
		score int
	}
	var results []scored
	for _, skill := range r.List() {
		score := matchScore(skill, queryLower, keywords)
		if score >= minScore {
			results = append(results, scored{skill, score})
		}
	}

	// SliceStable keeps catalog iteration order for equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	log := logger.G(ctx).WithField("query", query)
	log.WithField("matches", len(results)).Debug("skill search completed")

	matched := make([]*Metadata, len(results))
	for i, res := range results {
		matched[i] = res.skill
	}
	return matched
}

// extractKeywords tokenizes a lowercased query. Tokens containing CJK
// ideographs are kept whole unless they are CJK stop words; pure-Latin
// tokens are kept only when longer than two characters.
func extractKeywords(query string) []string {
	var keywords []string
	for _, word := range strings.Fields(query) {
		if _, stop := englishStopWords[word]; stop {
			continue
		}
		if containsCJK(word) {
			if _, stop := cjkStopWords[word]; !stop && len(word) >= 1 {
				keywords = append(keywords, word)
			}
			continue
		}
		if len(word) > 2 {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// containsCJK reports whether the string contains a rune in the CJK Unified
// Ideographs block.
func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

// matchScore accumulates the relevance score of one skill against the query.
func matchScore(skill *Metadata, query string, keywords []string) int {
	score := 0
	nameLower := strings.ToLower(skill.Name)
	descLower := strings.ToLower(skill.Description)

	if strings.Contains(query, nameLower) || strings.Contains(nameLower, query) {
		score += 100
	}

	for _, tag := range skill.Tags {
		tagLower := strings.ToLower(tag)
		if strings.Contains(query, tagLower) {
			score += 50
		}
		for _, keyword := range keywords {
			if strings.Contains(tagLower, keyword) || strings.Contains(keyword, tagLower) {
				score += 30
			}
		}
	}

	for _, keyword := range keywords {
		if strings.Contains(descLower, keyword) {
			score += 20
		}
		if strings.Contains(nameLower, keyword) {
			score += 40
		}
	}

	return score
}
