package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"drinkshop-backend/internal/domain"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(ctx context.Context, dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepoWithDB wraps an existing handle without migrating it.
func NewPostgresRepoWithDB(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		phone TEXT UNIQUE NOT NULL,
		name TEXT,
		role TEXT NOT NULL,
		store_id TEXT,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);`,
		`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_number TEXT UNIQUE NOT NULL,
		store_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		shipper_id TEXT,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		gateway TEXT NOT NULL,
		gateway_expires_at TIMESTAMPTZ,
		payment_ref TEXT,
		promo_code TEXT,
		subtotal NUMERIC(14,0) NOT NULL,
		discount_amount NUMERIC(14,0) NOT NULL,
		delivery_fee NUMERIC(14,0) NOT NULL,
		total NUMERIC(14,0) NOT NULL,
		delivery_address TEXT NOT NULL,
		phone TEXT NOT NULL,
		cancel_reason TEXT,
		items TEXT NOT NULL,
		history TEXT,
		idempotency_key TEXT,
		version INT NOT NULL,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);`,
		`CREATE INDEX IF NOT EXISTS orders_store_status_idx ON orders (store_id, status);`,
		`CREATE INDEX IF NOT EXISTS orders_customer_idx ON orders (customer_id);`,
		`CREATE TABLE IF NOT EXISTS refund_requests (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		customer_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		note TEXT,
		evidence_image TEXT NOT NULL,
		evidence_video TEXT NOT NULL,
		status TEXT NOT NULL,
		resolved_by TEXT,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id,order_number,store_id,customer_id,shipper_id,status,payment_method,gateway,gateway_expires_at,payment_ref,promo_code,subtotal,discount_amount,delivery_fee,total,delivery_address,phone,cancel_reason,items,history,idempotency_key,version,created_at,updated_at`

const refundColumns = `id,order_id,customer_id,reason,note,evidence_image,evidence_video,status,resolved_by,resolved_at,created_at,updated_at`

func (r *PostgresRepo) Create(ctx context.Context, o *domain.Order) error {
	items, history, err := encodeOrder(o)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		o.ID, o.OrderNumber, o.StoreID, o.CustomerID, o.ShipperID, string(o.Status), string(o.PaymentMethod),
		string(o.Gateway), nullTime(o.GatewayExpiresAt), o.PaymentRef, o.PromoCode,
		o.Subtotal, o.DiscountAmount, o.DeliveryFee, o.Total,
		o.DeliveryAddress, o.Phone, o.CancelReason, items, history, o.IdempotencyKey,
		1, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if err := upsertRefunds(ctx, tx, o.RefundRequests); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	o.Version = 1
	return nil
}

func (r *PostgresRepo) Update(ctx context.Context, o *domain.Order) error {
	items, history, err := encodeOrder(o)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE orders SET shipper_id=$2,status=$3,gateway=$4,gateway_expires_at=$5,payment_ref=$6,
		cancel_reason=$7,items=$8,history=$9,version=version+1,updated_at=$10
		WHERE id=$1 AND version=$11`,
		o.ID, o.ShipperID, string(o.Status), string(o.Gateway), nullTime(o.GatewayExpiresAt), o.PaymentRef,
		o.CancelReason, items, history, o.UpdatedAt, o.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrStaleWrite
	}
	if err := upsertRefunds(ctx, tx, o.RefundRequests); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	o.Version++
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*domain.Order, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := r.attachRefunds(ctx, []*domain.Order{o}); err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (r *PostgresRepo) List(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.StoreID != "" {
		add("store_id=$%d", f.StoreID)
	}
	if f.CustomerID != "" {
		add("customer_id=$%d", f.CustomerID)
	}
	if f.ShipperID != "" {
		add("shipper_id=$%d", f.ShipperID)
	}
	if f.OrderNumber != "" {
		add("order_number=$%d", f.OrderNumber)
	}
	if f.Gateway != "" {
		add("gateway=$%d", string(f.Gateway))
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(ss))
	}
	if !f.Since.IsZero() {
		add("updated_at >= $%d", f.Since)
	}
	if f.Unassigned {
		where = append(where, "COALESCE(shipper_id,'')=''")
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*domain.Order, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := r.attachRefunds(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) GetByRefundID(ctx context.Context, refundID string) (*domain.Order, bool, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx, `SELECT order_id FROM refund_requests WHERE id=$1`, refundID).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.Get(ctx, orderID)
}

func (r *PostgresRepo) attachRefunds(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.RefundRequests = []domain.RefundRequest{}
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE order_id = ANY($1) ORDER BY created_at ASC`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rr domain.RefundRequest
		var note, resolvedBy sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&rr.ID, &rr.OrderID, &rr.CustomerID, (*string)(&rr.Reason), &note,
			&rr.EvidenceImage, &rr.EvidenceVideo, (*string)(&rr.Status), &resolvedBy, &resolvedAt,
			&rr.CreatedAt, &rr.UpdatedAt); err != nil {
			return err
		}
		rr.Note = note.String
		rr.ResolvedBy = resolvedBy.String
		if resolvedAt.Valid {
			rr.ResolvedAt = resolvedAt.Time
		}
		if o, ok := byID[rr.OrderID]; ok {
			o.RefundRequests = append(o.RefundRequests, rr)
		}
	}
	return rows.Err()
}

func upsertRefunds(ctx context.Context, tx *sql.Tx, refunds []domain.RefundRequest) error {
	for _, rr := range refunds {
		_, err := tx.ExecContext(ctx, `INSERT INTO refund_requests (`+refundColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET status=$8,resolved_by=$9,resolved_at=$10,updated_at=$12`,
			rr.ID, rr.OrderID, rr.CustomerID, string(rr.Reason), rr.Note, rr.EvidenceImage, rr.EvidenceVideo,
			string(rr.Status), rr.ResolvedBy, nullTime(rr.ResolvedAt), rr.CreatedAt, rr.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (*domain.Order, error) {
	var o domain.Order
	var shipper, paymentRef, promo, cancel, history, idem sql.NullString
	var expires sql.NullTime
	var items string
	err := s.Scan(&o.ID, &o.OrderNumber, &o.StoreID, &o.CustomerID, &shipper, (*string)(&o.Status),
		(*string)(&o.PaymentMethod), (*string)(&o.Gateway), &expires, &paymentRef, &promo,
		&o.Subtotal, &o.DiscountAmount, &o.DeliveryFee, &o.Total,
		&o.DeliveryAddress, &o.Phone, &cancel, &items, &history, &idem,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.ShipperID = shipper.String
	o.PaymentRef = paymentRef.String
	o.PromoCode = promo.String
	o.CancelReason = cancel.String
	o.IdempotencyKey = idem.String
	if expires.Valid {
		o.GatewayExpiresAt = expires.Time
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	if history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &o.History); err != nil {
			return nil, fmt.Errorf("decode history of order %s: %w", o.ID, err)
		}
	}
	return &o, nil
}

func encodeOrder(o *domain.Order) (string, string, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return "", "", err
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return "", "", err
	}
	return string(items), string(history), nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (r *PostgresRepo) PutUser(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (user_id,phone,name,role,store_id,password_hash,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.UserID, u.Phone, u.Name, string(u.Role), u.StoreID, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.ErrUserExists
	}
	return err
}

func (r *PostgresRepo) GetUser(ctx context.Context, id string) (*domain.User, bool, error) {
	return r.getUser(ctx, `user_id=$1`, id)
}

func (r *PostgresRepo) GetUserByPhone(ctx context.Context, phone string) (*domain.User, bool, error) {
	return r.getUser(ctx, `phone=$1`, phone)
}

func (r *PostgresRepo) getUser(ctx context.Context, cond string, arg string) (*domain.User, bool, error) {
	var u domain.User
	var name, store sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT user_id,phone,name,role,store_id,password_hash,created_at,updated_at FROM users WHERE `+cond, arg).
		Scan(&u.UserID, &u.Phone, &name, (*string)(&u.Role), &store, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	u.Name = name.String
	u.StoreID = store.String
	return &u, true, nil
}
