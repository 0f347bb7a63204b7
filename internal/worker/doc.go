// Package worker реализует цикл выполнения tasks.
//
// Worker — единственный исполнитель очереди:
//   - Атомарно забирает следующий task из очереди (БД — источник истины)
//   - Запускает агента через runner и ждёт результата
//   - Прогоняет результаты через processor (summary, загрузки, email)
//   - Фиксирует исход: COMPLETED, RETRY, DEAD или FAILED
//
// RabbitMQ опционален: wake-события (tasks.queued) убирают задержку
// опроса, запросы отмены (tasks.cancel) останавливают процесс агента.
// Без брокера воркер работает в режиме polling-only.
package worker
