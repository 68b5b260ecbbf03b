// Package skills implements skill discovery, indexing and relevance search.
// Skills are packaged as directories containing a SKILL.md file whose YAML
// frontmatter describes the skill and whose body carries the full
// instructional document. Only the frontmatter is surfaced by default; the
// body is injected into model context on activation (progressive disclosure).
package skills

// Metadata describes a discovered skill.
type Metadata struct {
	Name          string   // Unique key within a registry
	Description   string   // Brief description for matching and summaries
	Context       string   // Activation scope hint from frontmatter
	Compatibility string   // Free-form compatibility note
	Tags          []string // Ordered tags used by the relevance scorer
	Path          string   // Directory the skill was loaded from
	FullContent   string   // Complete SKILL.md body, injected on activation
}
