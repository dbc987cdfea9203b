package progress

import (
	"time"

	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// NextStreak вычисляет новую серию по календарным датам UTC:
//
//	нет предыдущей активности -> 1
//	вчера                     -> +1
//	сегодня                   -> без изменений
//	2+ дня назад              -> 1
//
// Если последняя активность "в будущем" (сдвиг часов), серия не меняется.
func NextStreak(current int, lastActive *time.Time, now time.Time) int {
	if lastActive == nil {
		return 1
	}

	days := timeutil.CalendarDaysBetween(*lastActive, now)
	switch {
	case days <= 0:
		return current
	case days == 1:
		return current + 1
	default:
		return 1
	}
}
