// Package service реализует бизнес-логику сервиса braidbook.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/braidbook/braidbook-system/internal/lifecycle"
	"github.com/braidbook/braidbook-system/internal/model"
	"github.com/braidbook/braidbook-system/internal/repository"
	"github.com/braidbook/braidbook-system/internal/schedule"
)

// ErrInvalidPrice возвращается для отрицательной цены бронирования.
var ErrInvalidPrice = errors.New("price must be non-negative")

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrNotesTooLong возвращается, когда комментарий к бронированию превышает лимит.
var ErrNotesTooLong = errors.New("notes exceed maximum length")

// maxNotesLen ограничивает комментарий к бронированию (в символах, не байтах).
const maxNotesLen = 500

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	TransitionStatus(ctx context.Context, id string, event lifecycle.Event, now time.Time) (*model.Booking, error)
	ApplyPayment(ctx context.Context, id string, kind model.PaymentKind, method string, amountCents int64, txRef string, event lifecycle.Event, now time.Time) (*model.Booking, *model.Receipt, error)
	GetReceipt(ctx context.Context, bookingID string, kind model.PaymentKind) (*model.Receipt, error)
	ListBookings(ctx context.Context, filter model.BookingFilter, page model.Page) ([]model.Booking, int64, error)
	ListAutoReleaseDue(ctx context.Context, before time.Time, limit int) ([]string, error)
	GetBusyWindows(ctx context.Context, resourceID int64, from, to time.Time) ([]schedule.Window, error)
	AttachReview(ctx context.Context, id string, customerID int64, rating int, review string, now time.Time) error
	GetResourceStats(ctx context.Context, resourceID int64, now time.Time) (*model.ResourceStats, error)
}

// PaymentGateway описывает внешний платёжный шлюз: резервирование, списание и возврат.
type PaymentGateway interface {
	Authorize(ctx context.Context, bookingID string, amountCents int64, method string) (string, error)
	Capture(ctx context.Context, bookingID string, amountCents int64, txRef string) (string, error)
	Refund(ctx context.Context, bookingID string, amountCents int64, txRef string) error
}

// Service содержит бизнес-логику сервиса braidbook.
type Service struct {
	repo             Repository
	gateway          PaymentGateway
	logger           *zap.Logger
	autoReleaseAfter time.Duration
	pollInterval     time.Duration
}

// NewService создаёт новый сервис с указанным репозиторием и платёжным шлюзом.
// gateway может быть nil — тогда платежи фиксируются без внешнего провайдера.
func NewService(repo Repository, gateway PaymentGateway, logger *zap.Logger, autoReleaseAfter, pollInterval time.Duration) *Service {
	return &Service{
		repo:             repo,
		gateway:          gateway,
		logger:           logger,
		autoReleaseAfter: autoReleaseAfter,
		pollInterval:     pollInterval,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его учётную запись.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateBookingInput содержит данные запроса на создание бронирования.
// Цена и тип услуги приходят уже разрешёнными из каталога.
type CreateBookingInput struct {
	CustomerID  int64
	ResourceID  int64
	ServiceType string
	City        string
	Notes       string
	StartAt     time.Time
	EndAt       time.Time
	PriceCents  int64
}

// CreateBooking проверяет окно и цену, вычисляет депозит и атомарно сохраняет
// бронирование в статусе pending. Окно с пересечением отклоняется ошибкой
// repository.ConflictError с идентификатором мешающего бронирования.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	now := time.Now()

	w := schedule.Window{Start: in.StartAt, End: in.EndAt}
	if err := schedule.Validate(w, now); err != nil {
		return nil, err
	}
	if in.PriceCents < 0 {
		return nil, ErrInvalidPrice
	}
	if utf8.RuneCountInString(in.Notes) > maxNotesLen {
		return nil, ErrNotesTooLong
	}

	b := &model.Booking{
		ID:            uuid.New().String(),
		CustomerID:    in.CustomerID,
		ResourceID:    in.ResourceID,
		ServiceType:   in.ServiceType,
		City:          in.City,
		Notes:         in.Notes,
		StartAt:       in.StartAt,
		EndAt:         in.EndAt,
		PriceCents:    in.PriceCents,
		DepositCents:  model.DepositFor(in.PriceCents),
		Status:        model.StatusPending,
		PaymentStatus: model.PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.CreateBooking(ctx, b); err != nil {
		return nil, err
	}

	return b, nil
}

// GetBooking возвращает бронирование по идентификатору.
func (s *Service) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// ListBookings возвращает страницу бронирований и общее число записей.
// Номер и размер страницы нормализуются, некорректные значения не отклоняются.
func (s *Service) ListBookings(ctx context.Context, filter model.BookingFilter, page model.Page) ([]model.Booking, int64, error) {
	return s.repo.ListBookings(ctx, filter, page.Normalize())
}

// StartService переводит подтверждённое бронирование в in_progress.
// Переход разрешён не раньше начала окна.
func (s *Service) StartService(ctx context.Context, id string) (*model.Booking, error) {
	return s.repo.TransitionStatus(ctx, id, lifecycle.EventStart, time.Now())
}

// Cancel отменяет бронирование. Если депозит был оплачен, после фиксации отмены
// инициируется возврат через платёжный шлюз; сетевой сбой возврата не откатывает отмену.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.repo.TransitionStatus(ctx, id, lifecycle.EventCancel, time.Now())
	if err != nil {
		return nil, err
	}

	if b.PaymentStatus == model.PaymentRefunded && s.gateway != nil {
		rec, err := s.repo.GetReceipt(ctx, b.ID, model.PaymentKindDeposit)
		if err != nil {
			s.logger.Error("deposit receipt lookup for refund failed", zap.String("booking", b.ID), zap.Error(err))
			return b, nil
		}
		if err := s.gateway.Refund(ctx, b.ID, rec.AmountCents, rec.TransactionRef); err != nil {
			s.logger.Error("gateway refund failed", zap.String("booking", b.ID), zap.Error(err))
		}
	}

	return b, nil
}

// AttachReview сохраняет оценку и отзыв клиента по завершённому бронированию.
func (s *Service) AttachReview(ctx context.Context, id string, customerID int64, rating int, review string) error {
	return s.repo.AttachReview(ctx, id, customerID, rating, review, time.Now())
}

// ResourceStats возвращает сводку по бронированиям мастера.
func (s *Service) ResourceStats(ctx context.Context, resourceID int64) (*model.ResourceStats, error) {
	return s.repo.GetResourceStats(ctx, resourceID, time.Now())
}

// AvailableSlots возвращает свободные часовые слоты мастера на указанный день.
func (s *Service) AvailableSlots(ctx context.Context, resourceID int64, day time.Time) ([]string, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	busy, err := s.repo.GetBusyWindows(ctx, resourceID, from, to)
	if err != nil {
		return nil, err
	}

	return schedule.FreeSlots(from, busy, time.Now()), nil
}
