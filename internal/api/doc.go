// Package api реализует REST API для управления tasks.
//
// Структура:
//   - handler.go      — Handler с зависимостями
//   - routes.go       — регистрация маршрутов
//   - task_handler.go — обработчики tasks
//   - dto.go          — request/response модели
//   - response.go     — JSON-ответы и коды ошибок
//   - middleware.go   — logging, recovery
//
// API — тонкий адаптер над queue.Queue: вся бизнес-логика статусов
// живёт в очереди, здесь только HTTP-семантика.
package api
