package runner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shaiso/deepagent/internal/domain"
)

func TestBuildPrompt_TaskContext(t *testing.T) {
	task := &domain.Task{
		Type:        domain.TaskTypeResearch,
		Title:       "Quantum computing survey",
		Description: "Survey recent advances",
		OutputsPath: "/data/outputs/abc",
		Config:      map[string]any{"depth": "deep"},
		AttachmentRefs: []string{
			"/data/attachments/notes.md",
		},
		Delivery: &domain.Delivery{
			Email:   "user@example.com",
			Storage: "google_drive",
		},
	}

	prompt := BuildPrompt(task, "")

	for _, want := range []string{
		"# Research Task",
		"- **Title**: Quantum computing survey",
		"- **Description**: Survey recent advances",
		"- **Output Directory**: /data/outputs/abc",
		"## Configuration",
		`"depth": "deep"`,
		"## Attachments",
		"- /data/attachments/notes.md",
		"## Delivery Instructions",
		"- Send notification to: user@example.com",
		"- Upload to google_drive: DeepAgent/Results",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_OmitsEmptySections(t *testing.T) {
	task := &domain.Task{
		Type:        domain.TaskTypeDocument,
		Title:       "T",
		Description: "D",
		OutputsPath: "/out",
	}

	prompt := BuildPrompt(task, "")

	for _, section := range []string{"## Configuration", "## Attachments", "## Delivery Instructions"} {
		if strings.Contains(prompt, section) {
			t.Errorf("prompt must not contain %q for bare task", section)
		}
	}
}

func TestBuildPrompt_TemplateOverride(t *testing.T) {
	dir := t.TempDir()
	custom := "# Custom Analysis Prompt\nDo the thing.\n"
	if err := os.WriteFile(filepath.Join(dir, "analysis.md"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	task := &domain.Task{Type: domain.TaskTypeAnalysis, Title: "T", Description: "D"}

	prompt := BuildPrompt(task, dir)
	if !strings.HasPrefix(prompt, "# Custom Analysis Prompt") {
		t.Error("template file must override the built-in prompt")
	}

	// Без шаблона — встроенный промпт.
	prompt = BuildPrompt(task, t.TempDir())
	if !strings.HasPrefix(prompt, "# Analysis Task") {
		t.Error("built-in prompt must be used when template is absent")
	}
}

func TestAllowedTools(t *testing.T) {
	cases := []struct {
		taskType domain.TaskType
		want     string
	}{
		{domain.TaskTypeResearch, "Read,Write,Bash,Glob,Grep,Edit,WebFetch,WebSearch,Task"},
		{domain.TaskTypeAnalysis, "Read,Write,Bash,Glob,Grep,Edit,WebFetch,Task"},
		{domain.TaskTypeDocument, "Read,Write,Bash,Glob,Grep,Edit"},
	}

	for _, tc := range cases {
		if got := allowedTools(tc.taskType); got != tc.want {
			t.Errorf("allowedTools(%s) = %q, want %q", tc.taskType, got, tc.want)
		}
	}
}
