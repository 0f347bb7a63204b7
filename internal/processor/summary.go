package processor

import (
	"os"
	"path/filepath"
	"strings"
)

// Мягкий лимит длины summary.
const maxSummaryLength = 500

// summaryFiles — приоритетный порядок файлов-кандидатов на summary.
var summaryFiles = []string{
	"README.md",
	"summary.md",
	"report.md",
	"output.md",
	"result.md",
}

// ExtractSummary извлекает summary из артефактов task.
//
// Порядок поиска: известные имена файлов, любой *.md в outputs-директории,
// затем сырой вывод агента. Пустая строка — извлечь нечего.
func ExtractSummary(outputsPath, agentOutput string) string {
	for _, name := range summaryFiles {
		data, err := os.ReadFile(filepath.Join(outputsPath, name))
		if err == nil {
			return extractFirstSection(string(data))
		}
	}

	matches, _ := filepath.Glob(filepath.Join(outputsPath, "*.md"))
	if len(matches) > 0 {
		if data, err := os.ReadFile(matches[0]); err == nil {
			return extractFirstSection(string(data))
		}
	}

	if agentOutput != "" {
		return extractFirstSection(agentOutput)
	}
	return ""
}

// extractFirstSection берёт первую содержательную секцию markdown:
// до второго заголовка, без fenced-блоков кода, с усечением по границе
// слова при превышении лимита.
func extractFirstSection(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")

	var summaryLines []string
	total := 0
	inCodeBlock := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}
		if len(summaryLines) == 0 && strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "#") && len(summaryLines) > 0 {
			break
		}

		summaryLines = append(summaryLines, line)
		total += len(line)
		if total > maxSummaryLength {
			break
		}
	}

	summary := strings.TrimSpace(strings.Join(summaryLines, "\n"))

	if len(summary) > maxSummaryLength {
		cut := summary[:maxSummaryLength]
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
		summary = cut + "..."
	}
	return summary
}
