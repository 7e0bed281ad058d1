// Package lifecycle реализует машину состояний бронирования.
// Это единственное место, где определены допустимые переходы статусов.
package lifecycle

import (
	"errors"
	"time"

	"github.com/braidbook/braidbook-system/internal/model"
)

// ErrIllegalTransition возвращается для события, недопустимого в текущем статусе.
var ErrIllegalTransition = errors.New("illegal booking transition")

// Event описывает событие, переводящее бронирование в следующий статус.
type Event string

const (
	// EventDepositPaid — депозит получен, слот закрепляется за клиентом.
	EventDepositPaid Event = "deposit_paid"
	// EventStart — мастер начал обслуживание.
	EventStart Event = "start"
	// EventRemainderPaid — остаток оплачен явно.
	EventRemainderPaid Event = "remainder_paid"
	// EventAutoRelease — остаток зачтён автоматически по истечении срока.
	EventAutoRelease Event = "auto_release"
	// EventCancel — любая сторона запросила отмену.
	EventCancel Event = "cancel"
)

// Events перечисляет все известные события; используется в тестах полноты таблицы.
var Events = []Event{EventDepositPaid, EventStart, EventRemainderPaid, EventAutoRelease, EventCancel}

// Apply применяет событие к бронированию: обновляет статус, состояние оплаты
// и время изменения. При недопустимом событии бронирование остаётся нетронутым
// и возвращается ErrIllegalTransition.
func Apply(b *model.Booking, event Event, now time.Time) error {
	next, ok := transition(b, event, now)
	if !ok {
		return ErrIllegalTransition
	}

	prev := b.Status
	b.Status = next

	switch event {
	case EventDepositPaid:
		b.PaymentStatus = model.PaymentDepositPaid
	case EventRemainderPaid, EventAutoRelease:
		b.PaymentStatus = model.PaymentPaidInFull
	case EventCancel:
		// Возврат депозита при отмене до начала обслуживания; спорная отмена
		// из in_progress оставляет оплату как есть, политика возврата решается вне ядра.
		if b.PaymentStatus == model.PaymentDepositPaid && prev != model.StatusInProgress {
			b.PaymentStatus = model.PaymentRefunded
		}
	}

	b.UpdatedAt = now
	return nil
}

func transition(b *model.Booking, event Event, now time.Time) (model.BookingStatus, bool) {
	switch b.Status {
	case model.StatusPending:
		switch event {
		case EventDepositPaid:
			return model.StatusConfirmed, true
		case EventCancel:
			return model.StatusCancelled, true
		}
	case model.StatusConfirmed:
		switch event {
		case EventStart:
			if now.Before(b.StartAt) {
				return "", false
			}
			return model.StatusInProgress, true
		case EventCancel:
			return model.StatusCancelled, true
		}
	case model.StatusInProgress:
		switch event {
		case EventRemainderPaid, EventAutoRelease:
			return model.StatusCompleted, true
		case EventCancel:
			return model.StatusCancelled, true
		}
	}
	return "", false
}
