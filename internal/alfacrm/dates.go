package alfacrm

import (
	"errors"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2006-01-02 15:04:05",
}

var errBadDate = errors.New("alfacrm: unrecognized date format")

// ParseDate разбирает даты CRM в трёх встречающихся форматах.
// Пустая строка — не ошибка, возвращается нулевое время.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errBadDate
}

// sameMonth сравнивает месяц и год, день не важен.
func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// dayOf приводит время к календарному дню по его собственным компонентам,
// без привязки к часовому поясу значения.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// withinWindow проверяет, что date попадает в окно [begin, end] включительно
// (сравнение по календарным дням, как в CRM).
func withinWindow(date, begin, end time.Time) bool {
	d := dayOf(date)
	return !d.Before(dayOf(begin)) && !d.After(dayOf(end))
}
