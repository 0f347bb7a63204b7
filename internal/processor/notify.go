package processor

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaiso/deepagent/internal/domain"
)

// Лимит размера вложения.
const maxAttachmentSize = 10 * 1024 * 1024

// mainOutputCandidates — приоритетный порядок файла-вложения.
var mainOutputCandidates = []string{
	"report.pdf",
	"report.md",
	"output.pdf",
	"output.md",
	"README.md",
	"summary.md",
}

// sendEmail отправляет уведомление о завершении task через gmcli.
func (p *Processor) sendEmail(ctx context.Context, to string, task *domain.Task, summary string, cloudLinks map[string]string) error {
	subject := "Task Complete: " + task.Title

	parts := []string{
		"Your task '" + task.Title + "' has been completed.",
		"",
	}

	if summary != "" {
		parts = append(parts, "## Summary", summary, "")
	}

	if len(cloudLinks) > 0 {
		parts = append(parts, "## Results")
		if url, ok := cloudLinks["google_drive"]; ok {
			parts = append(parts, "- Google Drive: "+url)
		}
		if url, ok := cloudLinks["onedrive"]; ok {
			parts = append(parts, "- OneDrive: "+url)
		}
		parts = append(parts, "")
	}

	parts = append(parts, "---", "Generated by DeepAgent")
	body := strings.Join(parts, "\n")

	args := []string{
		"send",
		"--to", to,
		"--subject", subject,
		"--body", body,
	}

	if attachment := findMainOutput(task.OutputsPath); attachment != "" {
		args = append(args, "--attach", attachment)
	}

	_, err := p.run(ctx, gmailBin, args...)
	return err
}

// findMainOutput ищет основной файл результата для вложения.
// Возвращает пустую строку, если подходящего файла нет или он
// превышает лимит размера.
func findMainOutput(outputsPath string) string {
	for _, name := range mainOutputCandidates {
		path := filepath.Join(outputsPath, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			if info.Size() < maxAttachmentSize {
				return path
			}
			return ""
		}
	}

	for _, pattern := range []string{"*.pdf", "*.md"} {
		matches, _ := filepath.Glob(filepath.Join(outputsPath, pattern))
		for _, match := range matches {
			if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() && info.Size() < maxAttachmentSize {
				return match
			}
		}
	}
	return ""
}
