package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/braidbook/braidbook-system/internal/lifecycle"
	"github.com/braidbook/braidbook-system/internal/model"
)

// Средства между получением депозита и финальным расчётом считаются удержанными:
// журнал платежей пополняется при каждом зачислении, а выплата мастеру возможна
// только после перехода бронирования в completed.

// ApplyDeposit принимает депозит по бронированию. Сумма должна в точности
// совпадать с вычисленным депозитом. Успешный платёж переводит бронирование
// из pending в confirmed и закрепляет слот.
func (s *Service) ApplyDeposit(ctx context.Context, bookingID, method string, amountCents int64) (*model.Receipt, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	// Внешняя авторизация выполняется до захвата блокировки строки:
	// транзакция БД не должна ждать сетевых вызовов.
	txRef := ""
	if s.gateway != nil && method == "card" {
		txRef, err = s.gateway.Authorize(ctx, b.ID, amountCents, method)
		if err != nil {
			return nil, err
		}
	}

	_, rec, err := s.repo.ApplyPayment(ctx, bookingID, model.PaymentKindDeposit, method, amountCents, txRef, lifecycle.EventDepositPaid, time.Now())
	if err != nil {
		// Авторизация без списания истечёт на стороне шлюза сама.
		return nil, err
	}

	return rec, nil
}

// ApplyRemainder принимает доплату по бронированию, находящемуся в in_progress.
// Успешный платёж завершает бронирование и снимает средства с удержания.
func (s *Service) ApplyRemainder(ctx context.Context, bookingID, method string, amountCents int64) (*model.Receipt, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	txRef := ""
	if s.gateway != nil && method == "card" {
		// Списание привязывается к авторизации депозита, если она была
		txRef, err = s.gateway.Capture(ctx, b.ID, amountCents, s.depositAuthRef(ctx, b.ID))
		if err != nil {
			return nil, err
		}
	}

	_, rec, err := s.repo.ApplyPayment(ctx, bookingID, model.PaymentKindRemainder, method, amountCents, txRef, lifecycle.EventRemainderPaid, time.Now())
	if err != nil {
		if txRef != "" {
			// Списание прошло, а переход проигран (например, гонка с автозачётом) —
			// возвращаем сумму и отдаём исходную ошибку вызывающему.
			if refundErr := s.gateway.Refund(ctx, b.ID, amountCents, txRef); refundErr != nil {
				s.logger.Error("refund after lost remainder race failed",
					zap.String("booking", b.ID), zap.Error(refundErr))
			}
		}
		return nil, err
	}

	return rec, nil
}

// StartAutoRelease запускает фоновый процесс автозачёта остатка: бронирования,
// по которым доплата не поступила в течение настроенного срока после окончания
// окна, завершаются с paymentStatus = paid_in_full.
func (s *Service) StartAutoRelease(ctx context.Context) {
	if s.pollInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processAutoReleaseBatch(ctx)
			}
		}
	}()
}

func (s *Service) processAutoReleaseBatch(ctx context.Context) {
	now := time.Now()

	ids, err := s.repo.ListAutoReleaseDue(ctx, now.Add(-s.autoReleaseAfter), 100)
	if err != nil {
		s.logger.Error("auto release scan failed", zap.Error(err))
		return
	}

	for _, id := range ids {
		b, err := s.repo.GetBooking(ctx, id)
		if err != nil {
			continue
		}

		_, _, err = s.repo.ApplyPayment(ctx, id, model.PaymentKindRemainder, "auto_release", b.RemainderCents(), "", lifecycle.EventAutoRelease, time.Now())
		if err != nil {
			// Проигранная гонка с явной доплатой или отменой — штатный исход,
			// повторять переход нельзя.
			continue
		}

		s.logger.Info("booking auto released", zap.String("booking", id))

		if s.gateway != nil {
			if _, err := s.gateway.Capture(ctx, id, b.RemainderCents(), s.depositAuthRef(ctx, id)); err != nil {
				s.logger.Error("gateway capture on auto release failed",
					zap.String("booking", id), zap.Error(err))
			}
		}
	}
}

// depositAuthRef возвращает ссылку авторизации депозита для привязки списания.
// Для депозита наличными или без шлюза ссылки нет, списание идёт без неё.
func (s *Service) depositAuthRef(ctx context.Context, bookingID string) string {
	rec, err := s.repo.GetReceipt(ctx, bookingID, model.PaymentKindDeposit)
	if err != nil {
		return ""
	}
	return rec.TransactionRef
}
