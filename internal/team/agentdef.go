package team

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionSource records where an agent definition file was found.
type DefinitionSource int

const (
	DefinitionGlobal DefinitionSource = iota // ~/.claude/agents/
	DefinitionProject                        // <project>/.claude/agents/
)

func (s DefinitionSource) String() string {
	if s == DefinitionProject {
		return "project"
	}
	return "global"
}

// Definition is one parsed .claude/agents/*.md agent definition file.
type Definition struct {
	Name        string
	Description string
	Model       string // e.g. "sonnet", "opus"
	Isolation   string // e.g. "worktree"
	Source      DefinitionSource
	FilePath    string
}

// frontmatter is the YAML block between --- delimiters at the top of a
// definition file.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Model       string `yaml:"model"`
	Isolation   string `yaml:"isolation"`
}

// parseFrontmatter extracts the YAML frontmatter from a Markdown file's
// content, or ok=false when none is present or it fails to parse.
func parseFrontmatter(content string) (frontmatter, bool) {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return frontmatter{}, false
	}
	rest := strings.TrimPrefix(trimmed[3:], "\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return frontmatter{}, false
	}
	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontmatter{}, false
	}
	return fm, true
}

func scanDefinitionDir(dir string, source DefinitionSource) []Definition {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var defs []Definition
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".md")
		def := Definition{Name: stem, Source: source, FilePath: path}
		if fm, ok := parseFrontmatter(string(data)); ok {
			if fm.Name != "" {
				def.Name = fm.Name
			}
			def.Description = fm.Description
			def.Model = fm.Model
			def.Isolation = fm.Isolation
		}
		defs = append(defs, def)
	}
	return defs
}

// ScanAgentDefinitions reads agent definition files from the global
// directory (~/.claude/agents/) and, when projectDir is non-empty, the
// project's .claude/agents/ directory. Project definitions override global
// ones with the same name.
func ScanAgentDefinitions(projectDir string) []Definition {
	var defs []Definition
	if home, err := os.UserHomeDir(); err == nil {
		defs = scanDefinitionDir(filepath.Join(home, ".claude", "agents"), DefinitionGlobal)
	}
	if projectDir != "" {
		for _, def := range scanDefinitionDir(filepath.Join(projectDir, ".claude", "agents"), DefinitionProject) {
			kept := defs[:0]
			for _, d := range defs {
				if d.Name != def.Name {
					kept = append(kept, d)
				}
			}
			defs = append(kept, def)
		}
	}
	return defs
}
