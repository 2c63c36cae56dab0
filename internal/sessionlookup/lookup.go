// Package sessionlookup resolves which agent conversation transcript a
// pane belongs to, by matching the pane's visible content against the tail
// of the agent's per-project transcript files. Phase 1 is non-invasive
// (match existing content); phase 2 searches for a probe marker the caller
// has already typed into the pane.
package sessionlookup

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// maxFilesToSearch bounds how many recent transcript files are read.
	maxFilesToSearch = 10
	// tailReadBytes bounds how much of each transcript's tail is read.
	tailReadBytes = 50 * 1024
	// maxPhrases bounds phrase extraction from capture content.
	maxPhrases = 5
)

// Lookup resolves session ids under a projects directory; the zero Dir
// defaults to the agents' conventional location.
type Lookup struct {
	// Dir overrides the projects directory, for tests.
	Dir string
}

func (l Lookup) projectsDir() string {
	if l.Dir != "" {
		return l.Dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// ProjectHash converts a working directory to the agent's per-project
// directory name: every path separator becomes a dash, so
// /home/user/proj -> -home-user-proj.
func ProjectHash(cwd string) string {
	return strings.ReplaceAll(cwd, "/", "-")
}

// FindSessionID matches the pane's capture content against recent
// transcript files for cwd; ok=false means no match (callers may fall back
// to ProbeSessionID).
func (l Lookup) FindSessionID(cwd, captureContent string) (string, bool) {
	phrases := ExtractPhrases(captureContent, maxPhrases)
	if len(phrases) == 0 {
		return "", false
	}
	return l.search(cwd, func(tail string) bool {
		for _, p := range phrases {
			if strings.Contains(tail, p) {
				return true
			}
		}
		return false
	})
}

// ProbeSessionID searches the transcripts for a unique marker string the
// caller previously sent to the pane.
func (l Lookup) ProbeSessionID(cwd, marker string) (string, bool) {
	if marker == "" {
		return "", false
	}
	return l.search(cwd, func(tail string) bool {
		return strings.Contains(tail, marker)
	})
}

func (l Lookup) search(cwd string, match func(tail string) bool) (string, bool) {
	base := l.projectsDir()
	if base == "" {
		return "", false
	}
	projectDir := filepath.Join(base, ProjectHash(cwd))

	for _, path := range recentTranscripts(projectDir, maxFilesToSearch) {
		tail, err := readTail(path, tailReadBytes)
		if err != nil {
			continue
		}
		if match(tail) {
			if id, ok := sessionIDFromPath(path); ok {
				return id, true
			}
		}
	}
	return "", false
}

// recentTranscripts lists the project's .jsonl files, newest first, capped
// at maxCount.
func recentTranscripts(dir string, maxCount int) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type fileWithTime struct {
		path  string
		mtime int64
	}
	var files []fileWithTime
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileWithTime{
			path:  filepath.Join(dir, e.Name()),
			mtime: info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime > files[j].mtime })
	if len(files) > maxCount {
		files = files[:maxCount]
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out
}

// readTail reads the last maxBytes of a file; seeking may land mid-rune,
// which is tolerable for substring matching.
func readTail(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > maxBytes {
		if _, err := f.Seek(-maxBytes, io.SeekEnd); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sessionIDFromPath extracts the session id from a transcript filename,
// accepting only alphanumerics and hyphens so the id is safe to pass to a
// `--resume <id>` invocation.
func sessionIDFromPath(path string) (string, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if stem == "" {
		return "", false
	}
	for _, c := range stem {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-') {
			return "", false
		}
	}
	return stem, true
}
