// Package handler содержит HTTP-обработчики API сервиса braidbook.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/braidbook/braidbook-system/internal/lifecycle"
	"github.com/braidbook/braidbook-system/internal/middleware"
	"github.com/braidbook/braidbook-system/internal/model"
	"github.com/braidbook/braidbook-system/internal/repository"
	"github.com/braidbook/braidbook-system/internal/schedule"
	"github.com/braidbook/braidbook-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	CreateBooking(ctx context.Context, in service.CreateBookingInput) (*model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	ListBookings(ctx context.Context, filter model.BookingFilter, page model.Page) ([]model.Booking, int64, error)
	ApplyDeposit(ctx context.Context, bookingID, method string, amountCents int64) (*model.Receipt, error)
	ApplyRemainder(ctx context.Context, bookingID, method string, amountCents int64) (*model.Receipt, error)
	StartService(ctx context.Context, id string) (*model.Booking, error)
	Cancel(ctx context.Context, id string) (*model.Booking, error)
	AttachReview(ctx context.Context, id string, customerID int64, rating int, review string) error
	ResourceStats(ctx context.Context, resourceID int64) (*model.ResourceStats, error)
	AvailableSlots(ctx context.Context, resourceID int64, day time.Time) ([]string, error)
}

// Handler реализует HTTP-обработчики API сервиса braidbook.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role := model.RoleCustomer
	switch req.Role {
	case "", string(model.RoleCustomer):
	case string(model.RoleProvider):
		role = model.RoleProvider
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, role)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.Role)
	w.WriteHeader(http.StatusOK)
}

type createBookingRequest struct {
	ResourceID  int64  `json:"resource_id"`
	ServiceType string `json:"service_type"`
	City        string `json:"city"`
	Notes       string `json:"notes,omitempty"`
	StartAt     string `json:"start_at"`
	EndAt       string `json:"end_at"`
	PriceCents  int64  `json:"price_cents"`
}

type bookingResponse struct {
	ID             string  `json:"id"`
	CustomerID     int64   `json:"customer_id"`
	ResourceID     int64   `json:"resource_id"`
	ServiceType    string  `json:"service_type"`
	City           string  `json:"city"`
	Notes          string  `json:"notes,omitempty"`
	StartAt        string  `json:"start_at"`
	EndAt          string  `json:"end_at"`
	PriceCents     int64   `json:"price_cents"`
	DepositCents   int64   `json:"deposit_cents"`
	RemainderCents int64   `json:"remainder_cents"`
	Status         string  `json:"status"`
	PaymentStatus  string  `json:"payment_status"`
	Rating         *int    `json:"rating,omitempty"`
	Review         *string `json:"review,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:             b.ID,
		CustomerID:     b.CustomerID,
		ResourceID:     b.ResourceID,
		ServiceType:    b.ServiceType,
		City:           b.City,
		Notes:          b.Notes,
		StartAt:        b.StartAt.Format(time.RFC3339),
		EndAt:          b.EndAt.Format(time.RFC3339),
		PriceCents:     b.PriceCents,
		DepositCents:   b.DepositCents,
		RemainderCents: b.RemainderCents(),
		Status:         string(b.Status),
		PaymentStatus:  string(b.PaymentStatus),
		Rating:         b.Rating,
		Review:         b.Review,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      b.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateBooking создаёт новое бронирование для текущего пользователя.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ResourceID == 0 || req.ServiceType == "" || req.City == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	endAt, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.CreateBooking(r.Context(), service.CreateBookingInput{
		CustomerID:  id.UserID,
		ResourceID:  req.ResourceID,
		ServiceType: req.ServiceType,
		City:        req.City,
		Notes:       req.Notes,
		StartAt:     startAt,
		EndAt:       endAt,
		PriceCents:  req.PriceCents,
	})
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toBookingResponse(b)); err != nil {
		h.logger.Error("encode booking response", zap.Error(err))
	}
}

type conflictResponse struct {
	Error         string `json:"error"`
	ConflictingID string `json:"conflicting_booking_id"`
}

// writeBookingError переводит доменные ошибки в HTTP-статусы.
// Все пять именованных видов ошибок различимы для вызывающего.
func (h *Handler) writeBookingError(w http.ResponseWriter, err error) {
	var conflict *repository.ConflictError
	switch {
	case errors.As(err, &conflict):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(conflictResponse{
			Error:         "time window already booked",
			ConflictingID: conflict.ConflictingID,
		})
	case errors.Is(err, schedule.ErrInvalidWindow):
		http.Error(w, "invalid booking window", http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrInvalidPrice):
		http.Error(w, "invalid price", http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrNotesTooLong):
		http.Error(w, "notes too long", http.StatusBadRequest)
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		http.Error(w, "illegal status transition", http.StatusConflict)
	case errors.Is(err, repository.ErrAmountMismatch):
		http.Error(w, "payment amount mismatch", http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrAlreadyPaid):
		http.Error(w, "already paid", http.StatusConflict)
	case errors.Is(err, repository.ErrReviewNotAllowed):
		http.Error(w, "review allowed only for completed booking", http.StatusConflict)
	case errors.Is(err, repository.ErrBookingNotFound), errors.Is(err, repository.ErrResourceNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	default:
		h.logger.Error("booking operation error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// canAccess проверяет, имеет ли вызывающий право видеть и изменять бронирование.
func canAccess(id middleware.Identity, b *model.Booking) bool {
	switch id.Role {
	case model.RoleAdmin:
		return true
	case model.RoleProvider:
		return b.ResourceID == id.UserID
	default:
		return b.CustomerID == id.UserID
	}
}

func (h *Handler) fetchAuthorized(w http.ResponseWriter, r *http.Request, bookingID string) (*model.Booking, middleware.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, middleware.Identity{}, false
	}

	// Синтаксически некорректный идентификатор неотличим от несуществующего
	if _, err := uuid.Parse(bookingID); err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil, middleware.Identity{}, false
	}

	b, err := h.service.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.writeBookingError(w, err)
		return nil, middleware.Identity{}, false
	}

	if !canAccess(id, b) {
		// Чужие бронирования неотличимы от несуществующих
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil, middleware.Identity{}, false
	}

	return b, id, true
}

// GetBooking возвращает бронирование по идентификатору.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.fetchAuthorized(w, r, pathParam(r, "id"))
	if !ok {
		return
	}

	writeJSON(w, h.logger, toBookingResponse(b))
}

type listBookingsResponse struct {
	Bookings []bookingResponse `json:"bookings"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ListBookings возвращает страницу бронирований по фильтрам запроса.
// Клиент видит только свои бронирования, мастер — свои, администратор — все.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()

	var filter model.BookingFilter
	switch id.Role {
	case model.RoleAdmin:
		if v, err := strconv.ParseInt(q.Get("resource_id"), 10, 64); err == nil {
			filter.ResourceID = &v
		}
		if v, err := strconv.ParseInt(q.Get("customer_id"), 10, 64); err == nil {
			filter.CustomerID = &v
		}
	case model.RoleProvider:
		rid := id.UserID
		filter.ResourceID = &rid
	default:
		cid := id.UserID
		filter.CustomerID = &cid
	}

	if v := q.Get("status"); v != "" {
		status := model.BookingStatus(v)
		filter.Status = &status
	}
	filter.City = q.Get("city")
	if v, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		filter.From = &v
	}
	if v, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		filter.To = &v
	}

	page := model.Page{}
	page.Number, _ = strconv.Atoi(q.Get("page"))
	page.Size, _ = strconv.Atoi(q.Get("page_size"))
	page = page.Normalize()

	bookings, total, err := h.service.ListBookings(r.Context(), filter, page)
	if err != nil {
		h.logger.Error("list bookings error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := listBookingsResponse{
		Bookings: make([]bookingResponse, 0, len(bookings)),
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	}
	for i := range bookings {
		resp.Bookings = append(resp.Bookings, toBookingResponse(&bookings[i]))
	}

	writeJSON(w, h.logger, resp)
}

type paymentRequest struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

type receiptResponse struct {
	ID             string `json:"id"`
	BookingID      string `json:"booking_id"`
	Kind           string `json:"kind"`
	Method         string `json:"method"`
	AmountCents    int64  `json:"amount_cents"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	PaidAt         string `json:"paid_at"`
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, bookingID, method string, amountCents int64) (*model.Receipt, error)) {
	b, _, ok := h.fetchAuthorized(w, r, pathParam(r, "id"))
	if !ok {
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Method != "card" && req.Method != "cash" {
		http.Error(w, "unsupported payment method", http.StatusBadRequest)
		return
	}

	rec, err := apply(r.Context(), b.ID, req.Method, req.AmountCents)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	writeJSON(w, h.logger, receiptResponse{
		ID:             rec.ID,
		BookingID:      rec.BookingID,
		Kind:           string(rec.Kind),
		Method:         rec.Method,
		AmountCents:    rec.AmountCents,
		TransactionRef: rec.TransactionRef,
		PaidAt:         rec.CreatedAt.Format(time.RFC3339),
	})
}

// Deposit принимает депозит по бронированию.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.applyPayment(w, r, h.service.ApplyDeposit)
}

// Remainder принимает доплату по бронированию.
func (h *Handler) Remainder(w http.ResponseWriter, r *http.Request) {
	h.applyPayment(w, r, h.service.ApplyRemainder)
}

// Start переводит бронирование в in_progress; доступно мастеру и администратору.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	b, id, ok := h.fetchAuthorized(w, r, pathParam(r, "id"))
	if !ok {
		return
	}

	if id.Role == model.RoleCustomer {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	updated, err := h.service.StartService(r.Context(), b.ID)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	writeJSON(w, h.logger, toBookingResponse(updated))
}

// Cancel отменяет бронирование.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.fetchAuthorized(w, r, pathParam(r, "id"))
	if !ok {
		return
	}

	updated, err := h.service.Cancel(r.Context(), b.ID)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	writeJSON(w, h.logger, toBookingResponse(updated))
}

type reviewRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review,omitempty"`
}

// Review сохраняет оценку и отзыв по завершённому бронированию.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Rating < 1 || req.Rating > 5 || utf8.RuneCountInString(req.Review) > 1000 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	bookingID := pathParam(r, "id")
	if _, err := uuid.Parse(bookingID); err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if err := h.service.AttachReview(r.Context(), bookingID, id.UserID, req.Rating, req.Review); err != nil {
		h.writeBookingError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type statsResponse struct {
	Total          int64            `json:"total"`
	ByStatus       map[string]int64 `json:"by_status"`
	RevenueCents   int64            `json:"revenue_cents"`
	AverageRating  *float64         `json:"average_rating,omitempty"`
	UpcomingCount  int64            `json:"upcoming_count"`
	CompletedCount int64            `json:"completed_count"`
}

// ResourceStats возвращает сводку по бронированиям мастера.
func (h *Handler) ResourceStats(w http.ResponseWriter, r *http.Request) {
	resourceID, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	stats, err := h.service.ResourceStats(r.Context(), resourceID)
	if err != nil {
		h.logger.Error("resource stats error", zap.Error(err), zap.Int64("resourceID", resourceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := statsResponse{
		Total:          stats.Total,
		ByStatus:       make(map[string]int64, len(stats.ByStatus)),
		RevenueCents:   stats.RevenueCents,
		AverageRating:  stats.AverageRating,
		UpcomingCount:  stats.UpcomingCount,
		CompletedCount: stats.CompletedCount,
	}
	for status, count := range stats.ByStatus {
		resp.ByStatus[string(status)] = count
	}

	writeJSON(w, h.logger, resp)
}

type slotsResponse struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

// AvailableSlots возвращает свободные часовые слоты мастера на указанный день.
func (h *Handler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	resourceID, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	day, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	slots, err := h.service.AvailableSlots(r.Context(), resourceID, day)
	if err != nil {
		h.logger.Error("available slots error", zap.Error(err), zap.Int64("resourceID", resourceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if slots == nil {
		slots = []string{}
	}

	writeJSON(w, h.logger, slotsResponse{
		Date:  day.Format("2006-01-02"),
		Slots: slots,
	})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", zap.Error(err))
	}
}
