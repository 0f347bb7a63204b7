package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/shaiso/deepagent/internal/domain"
)

// Имена внешних CLI. Процессы ищутся по PATH.
const (
	gdriveBin   = "gdcli"
	onedriveBin = "onedrive"
	gmailBin    = "gmcli"
)

// Result — итог пост-обработки task.
type Result struct {
	// Summary — краткое описание результата для API и уведомлений.
	Summary string

	// CloudLinks — ссылки на загруженные результаты: сервис → URL.
	CloudLinks map[string]string

	// UploadErrors — сбои загрузок (не фейлят task).
	UploadErrors []string

	NotificationSent  bool
	NotificationError string
}

// Processor выполняет доставку результатов через внешние CLI.
type Processor struct {
	logger *slog.Logger
}

// New создаёт Processor.
func New(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

// Process извлекает summary и выполняет доставку согласно task.Delivery.
//
// Никогда не возвращает ошибку выполнения: любые сбои доставки
// фиксируются внутри Result.
func (p *Processor) Process(ctx context.Context, task *domain.Task, agentOutput string) *Result {
	result := &Result{
		Summary: ExtractSummary(task.OutputsPath, agentOutput),
	}

	if task.Delivery == nil {
		return result
	}

	storage := task.Delivery.Storage
	folder := task.Delivery.Folder
	if folder == "" {
		folder = domain.DefaultDeliveryFolder
	}

	if storage != "" {
		result.CloudLinks = make(map[string]string)

		if storage == "google_drive" || storage == "both" {
			url, err := p.uploadToGoogleDrive(ctx, task.OutputsPath, folder, task.ID)
			if err != nil {
				result.UploadErrors = append(result.UploadErrors, "Google Drive: "+err.Error())
			} else {
				result.CloudLinks["google_drive"] = url
			}
		}

		if storage == "onedrive" || storage == "both" {
			url, err := p.uploadToOneDrive(ctx, task.OutputsPath, folder, task.ID)
			if err != nil {
				result.UploadErrors = append(result.UploadErrors, "OneDrive: "+err.Error())
			} else {
				result.CloudLinks["onedrive"] = url
			}
		}
	}

	if email := task.Delivery.Email; email != "" {
		if err := p.sendEmail(ctx, email, task, result.Summary, result.CloudLinks); err != nil {
			p.logger.Warn("failed to send email notification",
				"task_id", task.ID,
				"to", email,
				"error", err,
			)
			result.NotificationError = err.Error()
		} else {
			p.logger.Info("email notification sent", "task_id", task.ID, "to", email)
			result.NotificationSent = true
		}
	}

	return result
}

// run выполняет внешний CLI и возвращает stdout.
// Ненулевой код выхода — ошибка с текстом stderr.
func (p *Processor) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = fmt.Sprintf("exit code %d", exitErr.ExitCode())
			}
			return stdout.String(), errors.New(msg)
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", notInstalledError(name)
		}
		return "", err
	}
	return stdout.String(), nil
}

func notInstalledError(name string) error {
	switch name {
	case gdriveBin:
		return errors.New("gdcli not found. Is pi-skills installed?")
	case onedriveBin:
		return errors.New("onedrive-cli not found. Is it installed?")
	case gmailBin:
		return errors.New("gmcli not found. Is pi-skills installed?")
	}
	return fmt.Errorf("%s not found", name)
}
