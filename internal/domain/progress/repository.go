package progress

import "context"

// Repository - хранилище записей прогресса, ключ - UserID.
type Repository interface {
	// GetByUser возвращает запись пользователя.
	// Возвращает ErrProgressNotFound, если записи нет.
	GetByUser(ctx context.Context, userID string) (*Record, error)

	// Upsert полностью заменяет запись пользователя.
	// rec.Version - версия, прочитанная вызывающим; при расхождении
	// возвращается ErrProgressVersionStale. При успехе Version увеличивается.
	Upsert(ctx context.Context, rec *Record) error
}

// Locker сериализует операции чтения-изменения-записи одного пользователя.
type Locker interface {
	// Lock захватывает блокировку пользователя и возвращает функцию освобождения.
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}
