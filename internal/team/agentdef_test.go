package team

import (
	"os"
	"path/filepath"
	"testing"
)

func stageDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseFrontmatter(t *testing.T) {
	fm, ok := parseFrontmatter(`---
name: researcher
description: Reads code and reports findings
model: sonnet
isolation: worktree
---

You are a researcher agent.
`)
	if !ok {
		t.Fatal("frontmatter should parse")
	}
	if fm.Name != "researcher" || fm.Model != "sonnet" || fm.Isolation != "worktree" {
		t.Errorf("frontmatter = %+v", fm)
	}

	if _, ok := parseFrontmatter("no frontmatter here"); ok {
		t.Error("missing frontmatter should not parse")
	}
	if _, ok := parseFrontmatter("---\nname: x"); ok {
		t.Error("unterminated frontmatter should not parse")
	}
}

func TestScanAgentDefinitionsProjectOverridesGlobal(t *testing.T) {
	project := t.TempDir()
	projectAgents := filepath.Join(project, ".claude", "agents")
	stageDefinition(t, projectAgents, "reviewer.md", "---\nname: reviewer\nmodel: opus\n---\nbody")
	stageDefinition(t, projectAgents, "plain.md", "No frontmatter at all.")

	defs := ScanAgentDefinitions(project)

	byName := make(map[string]Definition)
	for _, d := range defs {
		byName[d.Name] = d
	}
	reviewer, ok := byName["reviewer"]
	if !ok {
		t.Fatalf("defs = %+v", defs)
	}
	if reviewer.Model != "opus" || reviewer.Source != DefinitionProject {
		t.Errorf("reviewer = %+v", reviewer)
	}
	// Files without frontmatter fall back to the filename stem.
	if _, ok := byName["plain"]; !ok {
		t.Errorf("defs = %+v, want filename-stem fallback", defs)
	}
}
