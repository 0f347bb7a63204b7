// Package cli реализует инструмент командной строки DeepAgent.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с DeepAgent API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для постановки tasks, наблюдения за их жизненным
// циклом и получения результатов.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для DeepAgent API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ErrorResponse) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	task, err := client.GetTask(id)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: deepagent task list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - task: submit, list, show, result, cancel, logs
//   - stats: статистика очереди по статусам
//
// Каждая группа создаётся через фабричную функцию (NewTaskCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
