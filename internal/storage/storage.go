package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			service_key TEXT NOT NULL,
			amount_msat INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			calendar TEXT NOT NULL,
			until_date INTEGER,
			max_payments INTEGER,
			first_payment_due INTEGER NOT NULL,
			last_payment_date INTEGER,
			next_payment_date INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_service_key ON subscriptions(service_key)`,

		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			service_key TEXT NOT NULL,
			service_name TEXT NOT NULL,
			detail TEXT NOT NULL,
			date INTEGER NOT NULL,
			amount_sat INTEGER,
			currency TEXT,
			request_id TEXT NOT NULL,
			subscription_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_date ON activities(date)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_service_key ON activities(service_key)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Subscriptions ---

// CreateSubscription inserts a new subscription row
func (s *Storage) CreateSubscription(ctx context.Context, sub Subscription) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions
			(id, service_key, amount_msat, currency, status, calendar,
			 until_date, max_payments, first_payment_due,
			 last_payment_date, next_payment_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ServiceKey, sub.AmountMsat, sub.Currency, sub.Status, sub.Calendar,
		unixOrNil(sub.Until), sub.MaxPayments, sub.FirstPaymentDue.Unix(),
		unixOrNil(sub.LastPaymentDate), unixOrNil(sub.NextPaymentDate), createdAt.Unix(),
	)
	return err
}

// GetSubscription returns a subscription by id
func (s *Storage) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var (
		sub         Subscription
		until       sql.NullInt64
		maxPayments sql.NullInt64
		firstDue    int64
		lastPaid    sql.NullInt64
		nextDue     sql.NullInt64
		createdAt   int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, service_key, amount_msat, currency, status, calendar,
			until_date, max_payments, first_payment_due,
			last_payment_date, next_payment_date, created_at
		 FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&sub.ID, &sub.ServiceKey, &sub.AmountMsat, &sub.Currency, &sub.Status, &sub.Calendar,
		&until, &maxPayments, &firstDue, &lastPaid, &nextDue, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.Until = timeOrNil(until)
	if maxPayments.Valid {
		n := int(maxPayments.Int64)
		sub.MaxPayments = &n
	}
	sub.FirstPaymentDue = time.Unix(firstDue, 0)
	sub.LastPaymentDate = timeOrNil(lastPaid)
	sub.NextPaymentDate = timeOrNil(nextDue)
	sub.CreatedAt = time.Unix(createdAt, 0)

	return &sub, nil
}

// UpdateLastPayment records a successful autonomous payment
func (s *Storage) UpdateLastPayment(ctx context.Context, id string, paidAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET last_payment_date = ? WHERE id = ?",
		paidAt.Unix(), id,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSubscriptionStatus transitions a subscription's lifecycle status
func (s *Storage) SetSubscriptionStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET status = ? WHERE id = ?",
		status, id,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Activities ---

// AppendActivity appends one audit record. Records are never updated or
// deleted here.
func (s *Storage) AppendActivity(ctx context.Context, a Activity) error {
	date := a.Date
	if date.IsZero() {
		date = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities
			(id, type, service_key, service_name, detail, date,
			 amount_sat, currency, request_id, subscription_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.ServiceKey, a.ServiceName, a.Detail, date.Unix(),
		a.AmountSat, nullString(a.Currency), a.RequestID, nullString(a.SubscriptionID),
	)
	return err
}

// ListActivities returns the most recent activities, newest first
func (s *Storage) ListActivities(ctx context.Context, limit int) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, service_key, service_name, detail, date,
			amount_sat, currency, request_id, subscription_id
		 FROM activities ORDER BY date DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		var (
			a        Activity
			date     int64
			amount   sql.NullInt64
			currency sql.NullString
			subID    sql.NullString
		)

		err := rows.Scan(&a.ID, &a.Type, &a.ServiceKey, &a.ServiceName, &a.Detail, &date,
			&amount, &currency, &a.RequestID, &subID)
		if err != nil {
			return nil, err
		}

		a.Date = time.Unix(date, 0)
		if amount.Valid {
			v := amount.Int64
			a.AmountSat = &v
		}
		a.Currency = currency.String
		a.SubscriptionID = subID.String
		activities = append(activities, a)
	}

	return activities, rows.Err()
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
