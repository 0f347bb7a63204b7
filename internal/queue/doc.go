// Package queue реализует durable очередь задач с state machine.
//
// Структура:
//   - store.go  — интерфейс Store и TaskPatch (частичное обновление с guard'ом)
//   - queue.go  — Queue: операторы enqueue/dequeue/mark*/cancel + чтения
//   - retry.go  — exponential backoff с jitter для retry
//   - memory.go — in-memory Store (тесты, запуск без Postgres)
//   - errors.go — sentinel-ошибки пакета
//
// Queue — единственный авторизованный мутатор статусов task. Каждый переход
// сверяется с таблицей в domain и защищён предикатом ожидаемого статуса
// на уровне Store, поэтому гонка двух мутаторов не может породить
// недопустимое ребро. Каждый переход пишет событие в TaskLog.
package queue
