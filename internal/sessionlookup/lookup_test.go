package sessionlookup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProjectHash(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/home/user/works/proj", "-home-user-works-proj"},
		{"/", "-"},
		{"/home/user", "-home-user"},
	}
	for _, tt := range tests {
		if got := ProjectHash(tt.in); got != tt.want {
			t.Errorf("ProjectHash(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSessionIDFromPath(t *testing.T) {
	if id, ok := sessionIDFromPath("/p/abcd1234-5678-abcd-efgh-ijklmnop.jsonl"); !ok || id != "abcd1234-5678-abcd-efgh-ijklmnop" {
		t.Errorf("got %q, %v", id, ok)
	}
	// Shell-unsafe stems are rejected (the id feeds a --resume flag).
	if _, ok := sessionIDFromPath("/p/bad;rm -rf.jsonl"); ok {
		t.Error("unsafe stem accepted")
	}
	if _, ok := sessionIDFromPath("/p/.jsonl"); ok {
		t.Error("empty stem accepted")
	}
}

func stageTranscript(t *testing.T, projectsDir, cwd, session, content string) {
	t.Helper()
	dir := filepath.Join(projectsDir, ProjectHash(cwd))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, session+".jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindSessionID(t *testing.T) {
	projects := t.TempDir()
	cwd := "/work/proj"
	stageTranscript(t, projects, cwd, "11111111-aaaa-bbbb-cccc-000000000000",
		`{"role":"assistant","text":"the authentication flow needs a refresh token rotation step"}`)

	l := Lookup{Dir: projects}
	capture := "some chrome\nthe authentication flow needs a refresh token rotation step\n❯\n"
	id, ok := l.FindSessionID(cwd, capture)
	if !ok || id != "11111111-aaaa-bbbb-cccc-000000000000" {
		t.Fatalf("got %q, %v", id, ok)
	}
}

func TestFindSessionIDNoMatch(t *testing.T) {
	projects := t.TempDir()
	cwd := "/work/proj"
	stageTranscript(t, projects, cwd, "11111111-aaaa-bbbb-cccc-000000000000", `{"text":"unrelated"}`)

	l := Lookup{Dir: projects}
	if _, ok := l.FindSessionID(cwd, "completely different pane content here\n"); ok {
		t.Fatal("unexpected match")
	}
	if _, ok := l.FindSessionID("/not/a/project", "some distinctive content line here\n"); ok {
		t.Fatal("match for nonexistent project dir")
	}
}

func TestProbeSessionID(t *testing.T) {
	projects := t.TempDir()
	cwd := "/work/proj"
	marker := "probe:550e8400-e29b-41d4-a716-446655440000"
	stageTranscript(t, projects, cwd, "22222222-aaaa-bbbb-cccc-000000000000",
		`{"role":"user","text":"`+marker+`"}`)

	l := Lookup{Dir: projects}
	id, ok := l.ProbeSessionID(cwd, marker)
	if !ok || id != "22222222-aaaa-bbbb-cccc-000000000000" {
		t.Fatalf("got %q, %v", id, ok)
	}
	if _, ok := l.ProbeSessionID(cwd, ""); ok {
		t.Fatal("empty marker must not match")
	}
}

func TestExtractPhrasesFiltersChrome(t *testing.T) {
	content := strings.Join([]string{
		"❯ this is a prompt line that is long enough",
		"────────────────────────────",
		"short",
		"a genuinely distinctive conversation sentence",
		"✳ Working on it spinner line long enough",
		"another distinctive line about refresh tokens",
	}, "\n")

	phrases := ExtractPhrases(content, 5)
	if len(phrases) != 2 {
		t.Fatalf("phrases = %v, want the two content lines", phrases)
	}
	for _, p := range phrases {
		if strings.HasPrefix(p, "❯") || strings.Contains(p, "✳") || strings.Contains(p, "─") {
			t.Errorf("chrome leaked into phrases: %q", p)
		}
	}
}

func TestExtractPhrasesTruncatesAtCharBoundary(t *testing.T) {
	long := strings.Repeat("界", 60) // 180 bytes, over the 80-byte cap
	phrases := ExtractPhrases(long, 1)
	if len(phrases) != 1 {
		t.Fatalf("phrases = %v", phrases)
	}
	if len(phrases[0]) > 80 {
		t.Errorf("phrase length = %d, want <= 80", len(phrases[0]))
	}
	if len(phrases[0])%3 != 0 {
		t.Errorf("phrase split a multi-byte rune: %q", phrases[0])
	}
}

func TestExtractPhrasesDedupsContainment(t *testing.T) {
	content := "a genuinely distinctive conversation sentence\na genuinely distinctive conversation sentence with more\n"
	phrases := ExtractPhrases(content, 5)
	if len(phrases) != 1 {
		t.Fatalf("phrases = %v, want containment-deduped single phrase", phrases)
	}
}
