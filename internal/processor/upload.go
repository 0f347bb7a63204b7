package processor

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

var (
	gdriveLinkRe   = regexp.MustCompile(`https://drive\.google\.com/[^\s]+`)
	onedriveLinkRe = regexp.MustCompile(`https://[^\s]+`)
)

// uploadToGoogleDrive загружает артефакты в Google Drive через gdcli
// и возвращает shareable-ссылку на папку.
func (p *Processor) uploadToGoogleDrive(ctx context.Context, outputsPath, folder, taskID string) (string, error) {
	targetFolder := path.Join(folder, taskID)

	files, err := listUploadFiles(outputsPath)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", errors.New("No files to upload")
	}

	for _, file := range files {
		if _, err := p.run(ctx, gdriveBin, "upload", file, targetFolder); err != nil {
			p.logger.Warn("failed to upload file to Google Drive",
				"file", filepath.Base(file),
				"error", err,
			)
			return "", err
		}
	}

	// Сбой share не фейлит загрузку: остаётся ссылка-заглушка.
	url := "gdrive://" + targetFolder
	out, err := p.run(ctx, gdriveBin, "share", targetFolder, "--anyone", "--role", "reader")
	if err == nil {
		if match := gdriveLinkRe.FindString(out); match != "" {
			url = match
		}
	}

	p.logger.Info("uploaded files to Google Drive",
		"count", len(files),
		"folder", targetFolder,
	)
	return url, nil
}

// uploadToOneDrive загружает артефакты в OneDrive через onedrive-cli.
func (p *Processor) uploadToOneDrive(ctx context.Context, outputsPath, folder, taskID string) (string, error) {
	targetFolder := path.Join(folder, taskID)

	files, err := listUploadFiles(outputsPath)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", errors.New("No files to upload")
	}

	for _, file := range files {
		targetPath := path.Join(targetFolder, filepath.Base(file))
		if _, err := p.run(ctx, onedriveBin, "cp", file, targetPath); err != nil {
			p.logger.Warn("failed to upload file to OneDrive",
				"file", filepath.Base(file),
				"error", err,
			)
			return "", err
		}
	}

	url := "onedrive://" + targetFolder
	out, err := p.run(ctx, onedriveBin, "chmod", targetFolder, "+r")
	if err == nil {
		if match := onedriveLinkRe.FindString(out); match != "" {
			url = match
		}
	}

	p.logger.Info("uploaded files to OneDrive",
		"count", len(files),
		"folder", targetFolder,
	)
	return url, nil
}

// listUploadFiles возвращает обычные нескрытые файлы верхнего уровня
// outputs-директории.
func listUploadFiles(outputsPath string) ([]string, error) {
	entries, err := os.ReadDir(outputsPath)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if entry.Name()[0] == '.' {
			continue
		}
		files = append(files, filepath.Join(outputsPath, entry.Name()))
	}
	return files, nil
}
