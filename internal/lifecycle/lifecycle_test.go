package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/braidbook/braidbook-system/internal/model"
)

var allStatuses = []model.BookingStatus{
	model.StatusPending,
	model.StatusConfirmed,
	model.StatusInProgress,
	model.StatusCompleted,
	model.StatusCancelled,
}

func newBooking(status model.BookingStatus, payment model.PaymentStatus) *model.Booking {
	start := time.Date(2026, 10, 30, 10, 0, 0, 0, time.UTC)
	return &model.Booking{
		ID:            "b1",
		Status:        status,
		PaymentStatus: payment,
		StartAt:       start,
		EndAt:         start.Add(90 * time.Minute),
		UpdatedAt:     start.Add(-24 * time.Hour),
	}
}

// Проверяет каждую пару (статус, событие): разрешённые переходы из таблицы
// должны проходить, все остальные — завершаться ErrIllegalTransition без
// изменения бронирования.
func TestApplyCompleteness(t *testing.T) {
	now := time.Date(2026, 10, 30, 10, 0, 0, 0, time.UTC)

	allowed := map[model.BookingStatus]map[Event]model.BookingStatus{
		model.StatusPending: {
			EventDepositPaid: model.StatusConfirmed,
			EventCancel:      model.StatusCancelled,
		},
		model.StatusConfirmed: {
			EventStart:  model.StatusInProgress,
			EventCancel: model.StatusCancelled,
		},
		model.StatusInProgress: {
			EventRemainderPaid: model.StatusCompleted,
			EventAutoRelease:   model.StatusCompleted,
			EventCancel:        model.StatusCancelled,
		},
	}

	for _, status := range allStatuses {
		for _, event := range Events {
			b := newBooking(status, model.PaymentUnpaid)
			before := *b

			err := Apply(b, event, now)

			want, ok := allowed[status][event]
			if ok {
				if err != nil {
					t.Fatalf("Apply(%s, %s) = %v, want success", status, event, err)
				}
				if b.Status != want {
					t.Fatalf("Apply(%s, %s): status = %s, want %s", status, event, b.Status, want)
				}
				if !b.UpdatedAt.Equal(now) {
					t.Fatalf("Apply(%s, %s): UpdatedAt not advanced", status, event)
				}
				continue
			}

			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("Apply(%s, %s) = %v, want ErrIllegalTransition", status, event, err)
			}
			if *b != before {
				t.Fatalf("Apply(%s, %s) mutated booking on failure", status, event)
			}
		}
	}
}

func TestApplyStartGuard(t *testing.T) {
	b := newBooking(model.StatusConfirmed, model.PaymentDepositPaid)

	early := b.StartAt.Add(-time.Minute)
	if err := Apply(b, EventStart, early); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("start before window start = %v, want ErrIllegalTransition", err)
	}
	if b.Status != model.StatusConfirmed {
		t.Fatalf("failed start changed status to %s", b.Status)
	}

	if err := Apply(b, EventStart, b.StartAt); err != nil {
		t.Fatalf("start at window start = %v, want success", err)
	}
	if b.Status != model.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", b.Status)
	}
}

func TestApplyPaymentStatusChanges(t *testing.T) {
	now := time.Date(2026, 10, 30, 10, 0, 0, 0, time.UTC)

	t.Run("deposit marks deposit_paid", func(t *testing.T) {
		b := newBooking(model.StatusPending, model.PaymentUnpaid)
		if err := Apply(b, EventDepositPaid, now); err != nil {
			t.Fatalf("Apply = %v", err)
		}
		if b.PaymentStatus != model.PaymentDepositPaid {
			t.Fatalf("payment = %s, want deposit_paid", b.PaymentStatus)
		}
	})

	t.Run("remainder marks paid_in_full", func(t *testing.T) {
		b := newBooking(model.StatusInProgress, model.PaymentDepositPaid)
		if err := Apply(b, EventRemainderPaid, now); err != nil {
			t.Fatalf("Apply = %v", err)
		}
		if b.PaymentStatus != model.PaymentPaidInFull {
			t.Fatalf("payment = %s, want paid_in_full", b.PaymentStatus)
		}
	})

	t.Run("auto release marks paid_in_full", func(t *testing.T) {
		b := newBooking(model.StatusInProgress, model.PaymentDepositPaid)
		if err := Apply(b, EventAutoRelease, now); err != nil {
			t.Fatalf("Apply = %v", err)
		}
		if b.PaymentStatus != model.PaymentPaidInFull {
			t.Fatalf("payment = %s, want paid_in_full", b.PaymentStatus)
		}
	})

	t.Run("cancel after deposit refunds", func(t *testing.T) {
		b := newBooking(model.StatusConfirmed, model.PaymentDepositPaid)
		if err := Apply(b, EventCancel, now); err != nil {
			t.Fatalf("Apply = %v", err)
		}
		if b.PaymentStatus != model.PaymentRefunded {
			t.Fatalf("payment = %s, want refunded", b.PaymentStatus)
		}
	})

	t.Run("cancel before deposit keeps unpaid", func(t *testing.T) {
		b := newBooking(model.StatusPending, model.PaymentUnpaid)
		if err := Apply(b, EventCancel, now); err != nil {
			t.Fatalf("Apply = %v", err)
		}
		if b.PaymentStatus != model.PaymentUnpaid {
			t.Fatalf("payment = %s, want unpaid", b.PaymentStatus)
		}
	})

	t.Run("dispute cancel keeps payment status", func(t *testing.T) {
		b := newBooking(model.StatusInProgress, model.PaymentDepositPaid)
		if err := Apply(b, EventCancel, now); err != nil {
			t.Fatalf("Apply = %v", err)
		}
		if b.PaymentStatus != model.PaymentDepositPaid {
			t.Fatalf("payment = %s, want deposit_paid", b.PaymentStatus)
		}
	})
}
