// Package processor обрабатывает результаты завершившегося агента:
// извлекает summary из артефактов, загружает файлы в облачные хранилища
// (gdcli, onedrive) и отправляет email-уведомления (gmcli).
//
// Сбои доставки никогда не фейлят task: они накапливаются в Result и
// попадают в лог.
package processor
