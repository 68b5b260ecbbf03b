package skills

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/docpilot/docpilot/pkg/logger"
)

const skillFileName = "SKILL.md"

// Registry manages skill discovery, parsing and indexing for one root
// directory. Mutation happens exclusively through Discover and Reload; after
// discovery the registry is read-only and safe for concurrent reads.
type Registry struct {
	root  string
	index map[string]*Metadata
	order []string
}

// NewRegistry creates a registry rooted at dir. No scan happens until
// Discover is called.
func NewRegistry(dir string) *Registry {
	return &Registry{
		root:  dir,
		index: make(map[string]*Metadata),
	}
}

// Discover scans the root directory for skill subdirectories containing a
// SKILL.md descriptor. Parse failures are logged and skipped; they do not
// abort the scan. Duplicate names are overwritten by the later entry
// (last-write-wins). Returns the number of skills registered.
func (r *Registry) Discover(ctx context.Context) (int, error) {
	log := logger.G(ctx)

	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("dir", r.root).Warn("skills directory does not exist")
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read skills directory")
	}

	count := 0
	for _, entry := range entries {
		entryPath := filepath.Join(r.root, entry.Name())
		info, err := os.Stat(entryPath)
		if err != nil || !info.IsDir() {
			continue
		}

		descriptor := filepath.Join(entryPath, skillFileName)
		if _, err := os.Stat(descriptor); err != nil {
			continue
		}

		skill, err := parseSkillFile(descriptor)
		if err != nil {
			log.WithError(err).WithField("path", descriptor).Error("failed to parse skill file")
			continue
		}

		skill.Path = entryPath
		r.insert(skill)
		count++
		log.WithField("skill", skill.Name).Info("discovered skill")
	}

	log.WithField("count", count).Info("skill discovery completed")
	return count, nil
}

// insert registers a skill, keeping the original order slot when a later
// duplicate overwrites an earlier entry.
func (r *Registry) insert(skill *Metadata) {
	if _, exists := r.index[skill.Name]; !exists {
		r.order = append(r.order, skill.Name)
	}
	r.index[skill.Name] = skill
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (*Metadata, bool) {
	skill, ok := r.index[name]
	return skill, ok
}

// List returns all registered skills in insertion order.
func (r *Registry) List() []*Metadata {
	out := make([]*Metadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.index[name])
	}
	return out
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	return len(r.index)
}

// Reload clears the index and re-scans the root directory.
func (r *Registry) Reload(ctx context.Context) (int, error) {
	r.index = make(map[string]*Metadata)
	r.order = nil
	return r.Discover(ctx)
}

// Summary renders every registered skill's name, description, tags and
// location as an XML block for inclusion in the base system prompt. The full
// body is deliberately omitted; it is loaded only on activation.
func (r *Registry) Summary() string {
	if len(r.order) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<available_skills>")
	for _, skill := range r.List() {
		fmt.Fprintf(&b, `
  <skill>
    <name>%s</name>
    <description>%s</description>
    <tags>%s</tags>
    <location>%s</location>
  </skill>`,
			skill.Name, skill.Description, strings.Join(skill.Tags, ", "),
			filepath.Join(skill.Path, skillFileName))
	}
	b.WriteString("\n</available_skills>")
	return b.String()
}

// parseSkillFile reads a SKILL.md descriptor and extracts its frontmatter
// and body. A descriptor without a frontmatter block is a parse error.
func parseSkillFile(path string) (*Metadata, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	metaData := meta.Get(pctx)
	if metaData == nil {
		return nil, errors.New("missing frontmatter")
	}

	name, _ := metaData["name"].(string)
	if name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}
	description, _ := metaData["description"].(string)
	skillContext, _ := metaData["context"].(string)
	compatibility, _ := metaData["compatibility"].(string)

	return &Metadata{
		Name:          name,
		Description:   description,
		Context:       skillContext,
		Compatibility: compatibility,
		Tags:          stringList(metaData["tags"]),
		FullContent:   extractBody(string(content)),
	}, nil
}

// stringList normalizes a frontmatter value into a slice of trimmed strings.
// Bracketed lists arrive from the YAML parser as []interface{}.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s := strings.TrimSpace(fmt.Sprintf("%v", item))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractBody strips the frontmatter block and returns the document body.
func extractBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return content
	}
	return strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")
}
