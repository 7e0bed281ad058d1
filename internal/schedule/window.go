// Package schedule содержит чистую логику работы с временными окнами бронирований.
package schedule

import (
	"errors"
	"time"
)

// ErrInvalidWindow возвращается для некорректного или прошедшего временного окна.
var ErrInvalidWindow = errors.New("invalid booking window")

// Window представляет полуоткрытый интервал [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps сообщает, пересекаются ли два полуоткрытых интервала.
// Окна, примыкающие друг к другу (a.End == b.Start), пересечением не считаются.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Validate проверяет, что окно корректно построено и начинается в будущем.
func Validate(w Window, now time.Time) error {
	if !w.End.After(w.Start) {
		return ErrInvalidWindow
	}
	if !w.Start.After(now) {
		return ErrInvalidWindow
	}
	return nil
}

// Рабочий день мастера: часовые слоты с 09:00 до 18:00.
const (
	dayOpenHour  = 9
	dayCloseHour = 18
)

// FreeSlots возвращает свободные часовые слоты указанного дня с учётом
// занятых окон. Для сегодняшнего дня уже прошедшие слоты не предлагаются.
func FreeSlots(day time.Time, busy []Window, now time.Time) []string {
	var slots []string

	for hour := dayOpenHour; hour < dayCloseHour; hour++ {
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
		slot := Window{Start: start, End: start.Add(time.Hour)}

		if !slot.Start.After(now) {
			continue
		}

		taken := false
		for _, b := range busy {
			if slot.Overlaps(b) {
				taken = true
				break
			}
		}
		if !taken {
			slots = append(slots, start.Format("15:04"))
		}
	}

	return slots
}
