// Package model содержит доменные сущности сервиса braidbook.
package model

import "time"

// User представляет зарегистрированного пользователя: клиента, мастера или администратора.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// BookingStatus описывает стадию жизненного цикла бронирования.
type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

// Terminal сообщает, является ли статус конечным.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// BlockingStatuses перечисляет статусы, при которых бронирование занимает окно мастера.
// Отменённые и завершённые бронирования новые записи не блокируют.
var BlockingStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusInProgress}

// PaymentStatus описывает состояние оплаты бронирования.
type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "unpaid"
	PaymentDepositPaid PaymentStatus = "deposit_paid"
	PaymentPaidInFull  PaymentStatus = "paid_in_full"
	PaymentRefunded    PaymentStatus = "refunded"
)

// Booking описывает запись к мастеру на полуоткрытое окно [StartAt, EndAt).
type Booking struct {
	ID            string
	CustomerID    int64
	ResourceID    int64
	ServiceType   string
	City          string
	Notes         string
	StartAt       time.Time
	EndAt         time.Time
	PriceCents    int64
	DepositCents  int64
	Status        BookingStatus
	PaymentStatus PaymentStatus
	Rating        *int
	Review        *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RemainderCents возвращает остаток к доплате. Значение всегда вычисляется,
// чтобы сумма депозита и остатка не могла разойтись с полной ценой.
func (b *Booking) RemainderCents() int64 {
	return b.PriceCents - b.DepositCents
}

// DepositFor вычисляет размер депозита: половина цены с округлением вверх
// для нечётного числа копеек.
func DepositFor(priceCents int64) int64 {
	return (priceCents + 1) / 2
}

// PaymentKind различает депозит и доплату в журнале платежей.
type PaymentKind string

const (
	PaymentKindDeposit   PaymentKind = "deposit"
	PaymentKindRemainder PaymentKind = "remainder"
)

// Receipt описывает зафиксированный платёж по бронированию.
type Receipt struct {
	ID             string
	BookingID      string
	Kind           PaymentKind
	Method         string
	AmountCents    int64
	TransactionRef string
	CreatedAt      time.Time
}

// BookingFilter задаёт необязательные условия выборки бронирований.
// Все заполненные поля объединяются по И.
type BookingFilter struct {
	ResourceID *int64
	CustomerID *int64
	Status     *BookingStatus
	City       string
	From       *time.Time
	To         *time.Time
}

// Page задаёт параметры страницы выборки.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Normalize приводит номер и размер страницы к допустимым границам.
// Некорректные значения исправляются, а не отклоняются.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// Offset возвращает смещение выборки для нормализованной страницы.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// ResourceStats содержит сводку по бронированиям одного мастера.
type ResourceStats struct {
	Total          int64
	ByStatus       map[BookingStatus]int64
	RevenueCents   int64
	AverageRating  *float64
	UpcomingCount  int64
	CompletedCount int64
}
