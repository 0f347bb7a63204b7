// Package runner запускает Claude Code CLI как подпроцесс агента.
//
// Runner собирает промпт из task, передаёт его через stdin и следит за
// процессом: таймаут по типу задачи, отмена через SIGTERM с grace-периодом
// и принудительным kill. Результат выполнения — Result: частичные
// (partial) результаты не подлежат retry.
package runner
