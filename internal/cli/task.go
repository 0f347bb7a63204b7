package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskSubmitCmd(clientFn, outputFn),
		newTaskListCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskResultCmd(clientFn, outputFn),
		newTaskCancelCmd(clientFn, outputFn),
		newTaskLogsCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var taskType string
	var description string
	var configPairs []string
	var attachments []string
	var email string
	var storage string
	var folder string

	cmd := &cobra.Command{
		Use:   "submit TITLE",
		Short: "Submit a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitTaskRequest{
				Type:        taskType,
				Title:       args[0],
				Description: description,
				Attachments: attachments,
			}

			if len(configPairs) > 0 {
				req.Config = make(map[string]any)
				for _, kv := range configPairs {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid config format %q, expected KEY=VALUE", kv)
					}
					req.Config[parts[0]] = parts[1]
				}
			}

			if email != "" || storage != "" || folder != "" {
				req.Delivery = &Delivery{
					Email:   email,
					Storage: storage,
					Folder:  folder,
				}
			}

			task, err := client.SubmitTask(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task submitted: %s", task.ID))
			out.Print(
				[]string{"ID", "TYPE", "TITLE", "STATUS", "CREATED"},
				[][]string{{task.ID, task.Type, task.Title, task.Status, task.CreatedAt}},
				task,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "type", "research", "Task type (research, analysis, document)")
	cmd.Flags().StringVar(&description, "description", "", "Task description (required)")
	cmd.Flags().StringSliceVar(&configPairs, "config", nil, "Config values as KEY=VALUE (repeatable)")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "Attachment reference (repeatable)")
	cmd.Flags().StringVar(&email, "email", "", "Deliver results to this email")
	cmd.Flags().StringVar(&storage, "storage", "", "Upload results to cloud storage (google_drive, onedrive, both)")
	cmd.Flags().StringVar(&folder, "folder", "", "Target folder in cloud storage")
	cmd.MarkFlagRequired("description")

	return cmd
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var page int
	var pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			list, err := client.ListTasks(ListTasksOpts{
				Status:   status,
				Page:     page,
				PageSize: pageSize,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "TITLE", "STATUS", "ATTEMPTS", "CREATED"}
			rows := make([][]string, len(list.Tasks))
			for i, t := range list.Tasks {
				attempts := fmt.Sprintf("%d/%d", t.Attempts, t.MaxAttempts)
				rows[i] = []string{t.ID, t.Type, t.Title, t.Status, attempts, t.CreatedAt}
			}

			out.Print(headers, rows, list)
			out.Success(fmt.Sprintf("Total: %d", list.Total))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, processing, completed, failed, retry, dead)")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Tasks per page")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			pairs := [][2]string{
				{"ID", task.ID},
				{"Type", task.Type},
				{"Title", task.Title},
				{"Status", task.Status},
				{"Attempts", fmt.Sprintf("%d/%d", task.Attempts, task.MaxAttempts)},
				{"Created", task.CreatedAt},
			}
			if task.StartedAt != "" {
				pairs = append(pairs, [2]string{"Started", task.StartedAt})
			}
			if task.CompletedAt != "" {
				pairs = append(pairs, [2]string{"Completed", task.CompletedAt})
			}
			if task.NextRetryAt != "" {
				pairs = append(pairs, [2]string{"Next retry", task.NextRetryAt})
			}
			if task.LastError != "" {
				pairs = append(pairs, [2]string{"Last error", task.LastError})
			}

			out.Details(pairs, task)
			return nil
		},
	}
}

func newTaskResultCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var includeLogs bool

	cmd := &cobra.Command{
		Use:   "result ID",
		Short: "Show task result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.GetTaskResult(args[0], includeLogs)
			if err != nil {
				return err
			}

			pairs := [][2]string{
				{"Task", result.TaskID},
				{"Status", result.Status},
			}
			if result.OutputsPath != "" {
				pairs = append(pairs, [2]string{"Outputs", result.OutputsPath})
			}
			for _, provider := range sortedKeys(result.CloudLinks) {
				pairs = append(pairs, [2]string{provider, result.CloudLinks[provider]})
			}
			if result.Summary != "" {
				pairs = append(pairs, [2]string{"Summary", result.Summary})
			}

			out.Details(pairs, result)

			if includeLogs {
				for _, entry := range result.Logs {
					out.Success(fmt.Sprintf("%s [%s] %s", entry.Timestamp, entry.Event, entry.Message))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeLogs, "logs", false, "Include execution logs")

	return cmd
}

func newTaskCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.CancelTask(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task cancelled: %s", args[0]))
			return nil
		},
	}
}

func newTaskLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs ID",
		Short: "Show task logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			logs, err := client.GetTaskLogs(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"TIMESTAMP", "LEVEL", "EVENT", "MESSAGE"}
			rows := make([][]string, len(logs))
			for i, entry := range logs {
				rows[i] = []string{entry.Timestamp, entry.Level, entry.Event, entry.Message}
			}

			out.Print(headers, rows, logs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of log entries")

	return cmd
}

// NewStatsCmd создаёт команду вывода статистики очереди.
func NewStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.GetStats()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(stats))
			for _, status := range sortedKeys(stats) {
				rows = append(rows, []string{status, strconv.Itoa(stats[status])})
			}

			out.Print([]string{"STATUS", "COUNT"}, rows, stats)
			return nil
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
