package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, root, dir, content string) string {
	t.Helper()
	skillDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644))
	return skillDir
}

func TestDiscover(t *testing.T) {
	tmpDir := t.TempDir()

	docsDir := writeSkill(t, tmpDir, "microsoft-docs", `---
name: microsoft-docs
description: Search official Microsoft documentation
context: fork
compatibility: all models
tags: [azure, documentation, learn]
---

# Microsoft Docs

Use the documentation search tool for every query.
`)

	writeSkill(t, tmpDir, "code-reference", `---
name: code-reference
description: Find code samples and API references
tags: [code, api, samples]
---

# Code Reference

Prefer official samples.
`)

	registry := NewRegistry(tmpDir)
	count, err := registry.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, registry.Len())

	docs, ok := registry.Get("microsoft-docs")
	require.True(t, ok)
	assert.Equal(t, "Search official Microsoft documentation", docs.Description)
	assert.Equal(t, "fork", docs.Context)
	assert.Equal(t, "all models", docs.Compatibility)
	assert.Equal(t, []string{"azure", "documentation", "learn"}, docs.Tags)
	assert.Equal(t, docsDir, docs.Path)
	assert.Contains(t, docs.FullContent, "# Microsoft Docs")
	assert.NotContains(t, docs.FullContent, "tags: [azure")
}

func TestDiscoverSkipsUnparsableDescriptor(t *testing.T) {
	tmpDir := t.TempDir()

	writeSkill(t, tmpDir, "good-skill", `---
name: good-skill
description: A valid skill
---

Body.
`)
	writeSkill(t, tmpDir, "no-frontmatter", "# Just a heading\n\nNo metadata block here.\n")
	writeSkill(t, tmpDir, "no-name", `---
description: missing the name key
---

Body.
`)

	registry := NewRegistry(tmpDir)
	count, err := registry.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, ok := registry.Get("no-frontmatter")
	assert.False(t, ok)
	_, ok = registry.Get("good-skill")
	assert.True(t, ok)
}

func TestDiscoverMissingDirectory(t *testing.T) {
	registry := NewRegistry(filepath.Join(t.TempDir(), "nope"))
	count, err := registry.Discover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReloadIsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	writeSkill(t, tmpDir, "skill-a", "---\nname: skill-a\ndescription: first\n---\n\nBody A.\n")
	writeSkill(t, tmpDir, "skill-b", "---\nname: skill-b\ndescription: second\n---\n\nBody B.\n")

	registry := NewRegistry(tmpDir)
	ctx := context.Background()

	first, err := registry.Discover(ctx)
	require.NoError(t, err)

	second, err := registry.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, registry.Len())
}

func TestDuplicateNameLastWriteWins(t *testing.T) {
	tmpDir := t.TempDir()
	// Directory scan order is lexicographic, so dir-b overwrites dir-a.
	writeSkill(t, tmpDir, "dir-a", "---\nname: shared\ndescription: from dir-a\n---\n\nA.\n")
	writeSkill(t, tmpDir, "dir-b", "---\nname: shared\ndescription: from dir-b\n---\n\nB.\n")

	registry := NewRegistry(tmpDir)
	count, err := registry.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, registry.Len())

	skill, ok := registry.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "from dir-b", skill.Description)
}

func TestListPreservesInsertionOrder(t *testing.T) {
	tmpDir := t.TempDir()
	writeSkill(t, tmpDir, "aaa", "---\nname: aaa\ndescription: a\n---\n\nA.\n")
	writeSkill(t, tmpDir, "bbb", "---\nname: bbb\ndescription: b\n---\n\nB.\n")
	writeSkill(t, tmpDir, "ccc", "---\nname: ccc\ndescription: c\n---\n\nC.\n")

	registry := NewRegistry(tmpDir)
	_, err := registry.Discover(context.Background())
	require.NoError(t, err)

	var names []string
	for _, skill := range registry.List() {
		names = append(names, skill.Name)
	}
	assert.Equal(t, []string{"aaa", "bbb", "ccc"}, names)
}

func TestSummary(t *testing.T) {
	tmpDir := t.TempDir()
	writeSkill(t, tmpDir, "microsoft-docs", `---
name: microsoft-docs
description: Search docs
tags: [azure, docs]
---

Full body that must not appear in the summary.
`)

	registry := NewRegistry(tmpDir)
	_, err := registry.Discover(context.Background())
	require.NoError(t, err)

	summary := registry.Summary()
	assert.Contains(t, summary, "<available_skills>")
	assert.Contains(t, summary, "<name>microsoft-docs</name>")
	assert.Contains(t, summary, "<tags>azure, docs</tags>")
	assert.Contains(t, summary, filepath.Join("microsoft-docs", "SKILL.md"))
	assert.NotContains(t, summary, "must not appear")
}

func TestSummaryEmptyRegistry(t *testing.T) {
	registry := NewRegistry(t.TempDir())
	assert.Empty(t, registry.Summary())
}
