// Package progress содержит ядро "Progress & Achievement Engine".
//
// Пакет определяет:
//
//   - Агрегат Record - прогресс одного пользователя (решённые задачи, серия, достижения)
//   - Attempt - попытку решения задачи
//   - Переход серии дней (streak) по календарным датам UTC
//   - Каталог правил достижений (Rule) с явными предикатами
//   - Построение отчёта о прогрессе (Report)
//   - Порт хранилища Repository
//
// # Архитектурные принципы
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//  2. Предикаты получают (record, catalog) явно, без глобального состояния
//  3. Заработанные достижения никогда не отзываются
//
// # Поток управления
//
//	attempt -> RecordCompletion + Touch -> Upsert -> правила -> BuildReport
//
// Пример:
//
//	rec := progress.NewRecord(id, "default_user", now)
//	rec.RecordCompletion("b1", progress.Attempt{TimeSpent: 20, Successful: true}, now)
//	rec.Touch(now)
//	report := progress.BuildReport(rec, catalog, progress.DefaultRules(), progress.DefaultRecentActivityLimit)
package progress
