// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - task.queued — новый task в очереди (wake-up для воркера)
//   - task.cancel — запрос отмены выполняющегося task
//
// Exchanges:
//   - deepagent.tasks — события tasks
//
// События — не источник истины: авторитетное состояние очереди живёт в
// Postgres, воркер в любом случае опрашивает её. Без брокера система
// работает в режиме polling-only.
package mq
