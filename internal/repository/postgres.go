// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/braidbook/braidbook-system/internal/lifecycle"
	"github.com/braidbook/braidbook-system/internal/model"
	"github.com/braidbook/braidbook-system/internal/schedule"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookingNotFound возвращается, если бронирование не найдено.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrResourceNotFound возвращается, если мастер не найден либо пользователь не является мастером.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrAmountMismatch возвращается, когда сумма платежа не совпадает с ожидаемой.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrAlreadyPaid возвращается при повторной попытке оплатить уже оплаченную часть.
	ErrAlreadyPaid = errors.New("already paid")
	// ErrReviewNotAllowed возвращается при попытке оставить отзыв на незавершённое бронирование.
	ErrReviewNotAllowed = errors.New("review allowed only for completed booking")
)

// ConflictError возвращается, когда запрошенное окно пересекается с существующим
// бронированием мастера. Содержит идентификатор мешающего бронирования.
type ConflictError struct {
	ConflictingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("window conflicts with booking %s", e.ConflictingID)
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет транзакцию при сбоях сериализации и дедлоках.
// Ошибки уровня домена (конфликт окна, недопустимый переход) не ретраятся.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

const bookingColumns = `id, customer_id, resource_id, service_type, city, notes,
	start_at, end_at, price_cents, deposit_cents, status, payment_status,
	rating, review, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var status, paymentStatus string

	err := row.Scan(
		&b.ID, &b.CustomerID, &b.ResourceID, &b.ServiceType, &b.City, &b.Notes,
		&b.StartAt, &b.EndAt, &b.PriceCents, &b.DepositCents, &status, &paymentStatus,
		&b.Rating, &b.Review, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = model.BookingStatus(status)
	b.PaymentStatus = model.PaymentStatus(paymentStatus)
	return &b, nil
}

func blockingList() []string {
	res := make([]string, 0, len(model.BlockingStatuses))
	for _, s := range model.BlockingStatuses {
		res = append(res, string(s))
	}
	return res
}

// CreateBooking атомарно проверяет отсутствие пересечений и сохраняет бронирование.
// Строка мастера блокируется на время транзакции, поэтому два конкурентных
// запроса на одного мастера сериализуются: проверка и вставка видны как одно целое.
// Бронирования разных мастеров друг друга не задерживают.
func (r *PostgresRepository) CreateBooking(ctx context.Context, b *model.Booking) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокируем строку мастера: это единственная точка взаимного исключения
		// для пары "проверка пересечений — вставка".
		var dummy int
		err = tx.QueryRow(ctx,
			`SELECT 1 FROM users WHERE id = $1 AND role = $2 FOR UPDATE`,
			b.ResourceID, string(model.RoleProvider),
		).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %d", ErrResourceNotFound, b.ResourceID)
			}
			return fmt.Errorf("lock resource for update: %w", err)
		}

		var conflictingID string
		err = tx.QueryRow(ctx,
			`SELECT id FROM bookings
			 WHERE resource_id = $1
			   AND status = ANY($2)
			   AND start_at < $4 AND end_at > $3
			 ORDER BY start_at
			 LIMIT 1`,
			b.ResourceID, blockingList(), b.StartAt, b.EndAt,
		).Scan(&conflictingID)
		if err == nil {
			return &ConflictError{ConflictingID: conflictingID}
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check conflicts: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO bookings
			 (id, customer_id, resource_id, service_type, city, notes,
			  start_at, end_at, price_cents, deposit_cents, status, payment_status,
			  created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			b.ID, b.CustomerID, b.ResourceID, b.ServiceType, b.City, b.Notes,
			b.StartAt, b.EndAt, b.PriceCents, b.DepositCents,
			string(b.Status), string(b.PaymentStatus), b.CreatedAt, b.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// GetBooking возвращает бронирование по идентификатору.
func (r *PostgresRepository) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// TransitionStatus применяет событие жизненного цикла к бронированию под блокировкой
// его строки. Конкурентные переходы по одному бронированию линеаризуются: проигравший
// получает ErrIllegalTransition, состояние остаётся целостным.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id string, event lifecycle.Event, now time.Time) (*model.Booking, error) {
	var result *model.Booking

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		b, err := lockBooking(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := lifecycle.Apply(b, event, now); err != nil {
			return err
		}

		if err := updateBookingState(ctx, tx, b); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ApplyPayment фиксирует платёж и соответствующий переход статуса как одну транзакцию:
// проверка суммы, запись в журнал платежей и смена статуса либо происходят целиком,
// либо не происходят вовсе.
func (r *PostgresRepository) ApplyPayment(ctx context.Context, id string, kind model.PaymentKind, method string, amountCents int64, txRef string, event lifecycle.Event, now time.Time) (*model.Booking, *model.Receipt, error) {
	var booking *model.Booking
	var receipt *model.Receipt

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		b, err := lockBooking(ctx, tx, id)
		if err != nil {
			return err
		}

		switch kind {
		case model.PaymentKindDeposit:
			if b.PaymentStatus != model.PaymentUnpaid {
				return ErrAlreadyPaid
			}
			if amountCents != b.DepositCents {
				return fmt.Errorf("%w: got %d, want %d", ErrAmountMismatch, amountCents, b.DepositCents)
			}
		case model.PaymentKindRemainder:
			if b.PaymentStatus == model.PaymentPaidInFull {
				return ErrAlreadyPaid
			}
			if amountCents != b.RemainderCents() {
				return fmt.Errorf("%w: got %d, want %d", ErrAmountMismatch, amountCents, b.RemainderCents())
			}
		default:
			return fmt.Errorf("unknown payment kind: %s", kind)
		}

		if err := lifecycle.Apply(b, event, now); err != nil {
			return err
		}

		rec := &model.Receipt{
			ID:             uuid.New().String(),
			BookingID:      b.ID,
			Kind:           kind,
			Method:         method,
			AmountCents:    amountCents,
			TransactionRef: txRef,
			CreatedAt:      now,
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO payments (id, booking_id, kind, method, amount_cents, transaction_ref, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, rec.BookingID, string(rec.Kind), rec.Method, rec.AmountCents, rec.TransactionRef, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		if err := updateBookingState(ctx, tx, b); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		booking = b
		receipt = rec
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return booking, receipt, nil
}

func lockBooking(ctx context.Context, tx pgx.Tx, id string) (*model.Booking, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("lock booking: %w", err)
	}
	return b, nil
}

func updateBookingState(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
	_, err := tx.Exec(ctx,
		`UPDATE bookings SET status = $2, payment_status = $3, updated_at = $4 WHERE id = $1`,
		b.ID, string(b.Status), string(b.PaymentStatus), b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

// GetReceipt возвращает запись журнала платежей по бронированию и виду платежа.
func (r *PostgresRepository) GetReceipt(ctx context.Context, bookingID string, kind model.PaymentKind) (*model.Receipt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, booking_id, kind, method, amount_cents, transaction_ref, created_at
		 FROM payments WHERE booking_id = $1 AND kind = $2`,
		bookingID, string(kind),
	)

	var rec model.Receipt
	var kindStr string
	err := row.Scan(&rec.ID, &rec.BookingID, &kindStr, &rec.Method, &rec.AmountCents, &rec.TransactionRef, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	rec.Kind = model.PaymentKind(kindStr)

	return &rec, nil
}

// ListBookings возвращает страницу бронирований по фильтру и общее число записей.
// Сортировка стабильна: по началу окна, затем по времени создания, обе по убыванию.
func (r *PostgresRepository) ListBookings(ctx context.Context, filter model.BookingFilter, page model.Page) ([]model.Booking, int64, error) {
	where, args := buildFilter(filter)

	var total int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM bookings`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	limitArgs := append(args, page.Size, page.Offset())
	query := fmt.Sprintf(
		`SELECT `+bookingColumns+` FROM bookings%s
		 ORDER BY start_at DESC, created_at DESC
		 LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)

	rows, err := r.pool.Query(ctx, query, limitArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return bookings, total, nil
}

func buildFilter(filter model.BookingFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ResourceID != nil {
		add("resource_id = $%d", *filter.ResourceID)
	}
	if filter.CustomerID != nil {
		add("customer_id = $%d", *filter.CustomerID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.City != "" {
		add("city = $%d", filter.City)
	}
	if filter.From != nil {
		add("start_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("start_at < $%d", *filter.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListAutoReleaseDue возвращает идентификаторы бронирований in_progress, у которых
// окно закончилось раньше указанного момента — кандидатов на автозачёт остатка.
func (r *PostgresRepository) ListAutoReleaseDue(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM bookings
		 WHERE status = $1 AND end_at <= $2
		 ORDER BY end_at
		 LIMIT $3`,
		string(model.StatusInProgress), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due bookings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// GetBusyWindows возвращает занятые окна мастера, пересекающие интервал [from, to).
func (r *PostgresRepository) GetBusyWindows(ctx context.Context, resourceID int64, from, to time.Time) ([]schedule.Window, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT start_at, end_at FROM bookings
		 WHERE resource_id = $1
		   AND status = ANY($2)
		   AND start_at < $4 AND end_at > $3
		 ORDER BY start_at`,
		resourceID, blockingList(), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("select busy windows: %w", err)
	}
	defer rows.Close()

	var windows []schedule.Window
	for rows.Next() {
		var w schedule.Window
		if err := rows.Scan(&w.Start, &w.End); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		windows = append(windows, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return windows, nil
}

// AttachReview сохраняет оценку и отзыв клиента по завершённому бронированию.
func (r *PostgresRepository) AttachReview(ctx context.Context, id string, customerID int64, rating int, review string, now time.Time) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		b, err := lockBooking(ctx, tx, id)
		if err != nil {
			return err
		}

		if b.CustomerID != customerID {
			return ErrBookingNotFound
		}
		if b.Status != model.StatusCompleted {
			return ErrReviewNotAllowed
		}

		_, err = tx.Exec(ctx,
			`UPDATE bookings SET rating = $2, review = $3, updated_at = $4 WHERE id = $1`,
			id, rating, review, now,
		)
		if err != nil {
			return fmt.Errorf("update review: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// GetResourceStats возвращает сводку по бронированиям мастера одним агрегирующим запросом.
func (r *PostgresRepository) GetResourceStats(ctx context.Context, resourceID int64, now time.Time) (*model.ResourceStats, error) {
	stats := &model.ResourceStats{
		ByStatus: make(map[model.BookingStatus]int64),
	}

	rows, err := r.pool.Query(ctx,
		`SELECT status, count(*) FROM bookings WHERE resource_id = $1 GROUP BY status`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[model.BookingStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	stats.CompletedCount = stats.ByStatus[model.StatusCompleted]

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(price_cents) FILTER (WHERE status = $2), 0),
		        AVG(rating) FILTER (WHERE rating IS NOT NULL),
		        COUNT(*) FILTER (WHERE status = ANY($3) AND start_at > $4)
		 FROM bookings
		 WHERE resource_id = $1`,
		resourceID, string(model.StatusCompleted), blockingList(), now,
	).Scan(&stats.RevenueCents, &stats.AverageRating, &stats.UpcomingCount)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}

	return stats, nil
}
