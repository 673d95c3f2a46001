package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	orderColumns = `o.id::text, o.user_id, o.status, o.total::text, o.created_at, o.updated_at`
	itemColumns  = `i.id::text, i.order_id::text, i.product_sku, i.title, i.price::text, i.qty,
		i.vendor_id, i.fulfillment_status, i.shipped_at, i.created_at, i.updated_at`
)

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

var _ order.Repository = (*OrderRepository)(nil)

// Create writes the order and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, status, total, created_at, updated_at)
		 VALUES ($1::uuid, $2, $3, $4::numeric, $5, $6)`,
		o.ID, o.UserID, string(o.Status), o.Total.StringFixed(2), o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return order.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(
			`INSERT INTO order_items (id, order_id, product_sku, title, price, qty, vendor_id,
			 fulfillment_status, shipped_at, created_at, updated_at)
			 VALUES ($1::uuid, $2::uuid, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)`,
			it.ID, o.ID, it.ProductSKU, it.Title, it.Price.StringFixed(2), it.Qty, it.VendorID,
			string(it.FulfillmentStatus), it.ShippedAt, it.CreatedAt, it.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return order.ErrConflict
		}
		return fmt.Errorf("insert items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, []*order.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = now() WHERE id = $1::uuid AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	exists, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1::uuid)`, id)
	if err != nil {
		return err
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStaleStatus
}

func (r *OrderRepository) MarkItemShipped(ctx context.Context, orderID, itemID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE order_items SET fulfillment_status = $3, shipped_at = $4, updated_at = $4
		 WHERE id = $2::uuid AND order_id = $1::uuid AND fulfillment_status <> $3`,
		orderID, itemID, string(order.FulfillmentShipped), at)
	if err != nil {
		return false, fmt.Errorf("mark shipped: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	exists, err := r.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_items WHERE id = $2::uuid AND order_id = $1::uuid)`, orderID, itemID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, order.ErrItemNotFound
	}
	return false, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page order.Page) ([]*order.Order, int, error) {
	return r.List(ctx, order.Filter{UserID: userID}, page)
}

func (r *OrderRepository) List(ctx context.Context, filter order.Filter, page order.Page) ([]*order.Order, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("o.status = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("o.user_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders o`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, page.Limit, page.Offset())
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders o`+clause+
			fmt.Sprintf(` ORDER BY o.created_at DESC, o.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan orders: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListByVendor pages over items, newest order first, and groups the page by
// order. Totals count items, not orders.
func (r *OrderRepository) ListByVendor(ctx context.Context, vendorID string, page order.Page) ([]*order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM order_items WHERE vendor_id = $1`, vendorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count vendor items: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`, `+itemColumns+`
		 FROM order_items i JOIN orders o ON o.id = i.order_id
		 WHERE i.vendor_id = $1
		 ORDER BY o.created_at DESC, o.id DESC, i.created_at ASC, i.id ASC
		 LIMIT $2 OFFSET $3`,
		vendorID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list vendor items: %w", err)
	}
	defer rows.Close()

	var (
		out  []*order.Order
		byID = map[string]*order.Order{}
	)
	for rows.Next() {
		var (
			o  order.Order
			it order.Item
		)
		var orderTotal, price, status, fstatus string
		if err := rows.Scan(&o.ID, &o.UserID, &status, &orderTotal, &o.CreatedAt, &o.UpdatedAt,
			&it.ID, &it.OrderID, &it.ProductSKU, &it.Title, &price, &it.Qty,
			&it.VendorID, &fstatus, &it.ShippedAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan vendor item: %w", err)
		}
		if err := fillOrder(&o, status, orderTotal); err != nil {
			return nil, 0, err
		}
		if err := fillItem(&it, fstatus, price); err != nil {
			return nil, 0, err
		}
		grouped, ok := byID[o.ID]
		if !ok {
			grouped = &o
			byID[o.ID] = grouped
			out = append(out, grouped)
		}
		grouped.Items = append(grouped.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate vendor items: %w", err)
	}
	return out, total, nil
}

func (r *OrderRepository) Stats(ctx context.Context) (order.Stats, error) {
	var (
		st      order.Stats
		revenue string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT count(*), COALESCE(sum(total), 0)::text FROM orders`).Scan(&st.TotalOrders, &revenue)
	if err != nil {
		return order.Stats{}, fmt.Errorf("stats: %w", err)
	}
	if st.TotalRevenue, err = decimal.NewFromString(revenue); err != nil {
		return order.Stats{}, fmt.Errorf("stats revenue: %w", err)
	}
	return st, nil
}

// attachItems loads the items of orders in one query.
func (r *OrderRepository) attachItems(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM order_items i
		 WHERE i.order_id = ANY($1::uuid[])
		 ORDER BY i.created_at ASC, i.id ASC`, ids)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		return scanItem(row)
	})
	if err != nil {
		return fmt.Errorf("scan items: %w", err)
	}
	for _, it := range items {
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return nil
}

func (r *OrderRepository) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return ok, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o             order.Order
		status, total string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &total, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fillOrder(&o, status, total); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanItem(row pgx.Row) (order.Item, error) {
	var (
		it            order.Item
		status, price string
	)
	if err := row.Scan(&it.ID, &it.OrderID, &it.ProductSKU, &it.Title, &price, &it.Qty,
		&it.VendorID, &status, &it.ShippedAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return order.Item{}, err
	}
	if err := fillItem(&it, status, price); err != nil {
		return order.Item{}, err
	}
	return it, nil
}

func fillOrder(o *order.Order, status, total string) error {
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.Status = order.Status(status)
	o.Total = amount
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return nil
}

func fillItem(it *order.Item, status, price string) error {
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return fmt.Errorf("item %s price: %w", it.ID, err)
	}
	it.FulfillmentStatus = order.FulfillmentStatus(status)
	it.Price = amount
	return nil
}
