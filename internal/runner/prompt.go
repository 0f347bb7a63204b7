package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaiso/deepagent/internal/domain"
)

// defaultPrompts — встроенные промпты по типам задач. Используются,
// когда в PromptsPath нет шаблона <type>.md.
var defaultPrompts = map[domain.TaskType]string{
	domain.TaskTypeResearch: `# Research Task

You are a research agent. Your job is to thoroughly research the given topic and produce a comprehensive report.

## Instructions
1. Use web search and browser tools to gather information
2. Cite all sources with URLs
3. Organize findings into clear sections
4. Save the final report as markdown in the output directory
5. Include a summary at the beginning
`,
	domain.TaskTypeAnalysis: `# Analysis Task

You are a data analysis agent. Your job is to analyze the given data or topic and produce insights.

## Instructions
1. Gather relevant data using available tools
2. Analyze patterns and trends
3. Create visualizations if appropriate
4. Save the analysis report as markdown in the output directory
5. Include key findings at the beginning
`,
	domain.TaskTypeDocument: `# Document Generation Task

You are a document generation agent. Your job is to create professional documents based on the given requirements.

## Instructions
1. Follow the provided template or format requirements
2. Research any needed information
3. Generate clear, well-structured content
4. Save the document in the output directory
5. Review for accuracy and formatting
`,
}

// BuildPrompt собирает полный промпт агента: базовый шаблон типа задачи
// плюс контекст конкретного task.
func BuildPrompt(task *domain.Task, promptsPath string) string {
	base := basePrompt(task.Type, promptsPath)

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")

	b.WriteString("## Task Details\n")
	fmt.Fprintf(&b, "- **Title**: %s\n", task.Title)
	fmt.Fprintf(&b, "- **Description**: %s\n", task.Description)
	fmt.Fprintf(&b, "- **Output Directory**: %s\n", task.OutputsPath)

	if len(task.Config) > 0 {
		if configJSON, err := json.MarshalIndent(task.Config, "", "  "); err == nil {
			b.WriteString("\n## Configuration\n```json\n")
			b.Write(configJSON)
			b.WriteString("\n```\n")
		}
	}

	if len(task.AttachmentRefs) > 0 {
		b.WriteString("\n## Attachments\n")
		for _, ref := range task.AttachmentRefs {
			fmt.Fprintf(&b, "- %s\n", ref)
		}
	}

	if task.Delivery != nil {
		b.WriteString("\n## Delivery Instructions\n")
		if task.Delivery.Email != "" {
			fmt.Fprintf(&b, "- Send notification to: %s\n", task.Delivery.Email)
		}
		if task.Delivery.Storage != "" {
			folder := task.Delivery.Folder
			if folder == "" {
				folder = domain.DefaultDeliveryFolder
			}
			fmt.Fprintf(&b, "- Upload to %s: %s\n", task.Delivery.Storage, folder)
		}
	}

	return b.String()
}

func basePrompt(t domain.TaskType, promptsPath string) string {
	if promptsPath != "" {
		data, err := os.ReadFile(filepath.Join(promptsPath, string(t)+".md"))
		if err == nil {
			return string(data)
		}
	}
	if p, ok := defaultPrompts[t]; ok {
		return p
	}
	return defaultPrompts[domain.TaskTypeResearch]
}

// allowedTools возвращает список инструментов агента для типа задачи
// (значение флага --allowedTools).
func allowedTools(t domain.TaskType) string {
	base := []string{"Read", "Write", "Bash", "Glob", "Grep", "Edit"}

	switch t {
	case domain.TaskTypeResearch:
		base = append(base, "WebFetch", "WebSearch", "Task")
	case domain.TaskTypeAnalysis:
		base = append(base, "WebFetch", "Task")
	}

	return strings.Join(base, ",")
}
