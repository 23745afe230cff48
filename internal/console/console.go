// Package console holds the read-only projections behind the customer,
// staff and shipper screens. Nothing here mutates an order.
package console

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"drinkshop-backend/internal/domain"

	"github.com/shopspring/decimal"
)

type Bucket string

const (
	BucketPreparing  Bucket = "preparing"
	BucketDelivering Bucket = "delivering"
	BucketCompleted  Bucket = "completed"
	BucketCancelled  Bucket = "cancelled"
	// BucketRefunded overlaps the status buckets: it holds every order with
	// at least one refund request, whatever its status.
	BucketRefunded Bucket = "refunded"
)

var AllBuckets = []Bucket{BucketPreparing, BucketDelivering, BucketCompleted, BucketCancelled, BucketRefunded}

func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range AllBuckets {
		if v == b {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: unknown bucket %q", domain.ErrInvalidInput, s)
}

func (b Bucket) Match(o *domain.Order) bool {
	switch b {
	case BucketPreparing:
		switch o.Status {
		case domain.OrderPending, domain.OrderProcessing, domain.OrderPreparing, domain.OrderReady:
			return true
		}
		return false
	case BucketDelivering:
		return o.Status == domain.OrderDelivering
	case BucketCompleted:
		return o.Status == domain.OrderCompleted
	case BucketCancelled:
		return o.Status == domain.OrderCancelled
	case BucketRefunded:
		return o.HasRefund()
	}
	return false
}

// History returns the customer's orders in bucket b, newest first. An empty
// bucket returns everything.
func History(orders []domain.Order, b Bucket) []domain.Order {
	out := make([]domain.Order, 0, len(orders))
	for i := range orders {
		if b == "" || b.Match(&orders[i]) {
			out = append(out, orders[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// BucketCounts counts orders per bucket. The counts do not sum to the number
// of orders because Refunded overlaps.
func BucketCounts(orders []domain.Order) map[Bucket]int {
	out := make(map[Bucket]int, len(AllBuckets))
	for _, b := range AllBuckets {
		out[b] = 0
	}
	for i := range orders {
		for _, b := range AllBuckets {
			if b.Match(&orders[i]) {
				out[b]++
			}
		}
	}
	return out
}

// HistoryView is one bucket of a customer's orders with the counts of every
// bucket taken over all of the customer's orders.
type HistoryView struct {
	Bucket Bucket         `json:"bucket"`
	Items  []domain.Order `json:"items"`
	Counts map[Bucket]int `json:"counts"`
}

func CustomerView(orders []domain.Order, b Bucket) HistoryView {
	return HistoryView{Bucket: b, Items: History(orders, b), Counts: BucketCounts(orders)}
}

type Window string

const (
	WindowAll   Window = ""
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case WindowAll, WindowDay, WindowWeek, WindowMonth:
		return w, nil
	}
	return "", fmt.Errorf("%w: unknown window %q", domain.ErrInvalidInput, s)
}

// Start returns the beginning of the calendar period containing now in loc.
// Weeks start on Monday. WindowAll returns the zero time.
func (w Window) Start(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	switch w {
	case WindowDay:
		return day
	case WindowWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case WindowMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	}
	return time.Time{}
}

func (w Window) Contains(at, now time.Time, loc *time.Location) bool {
	start := w.Start(now, loc)
	return start.IsZero() || !at.Before(start)
}

type RefundCounts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

type Stats struct {
	Window   Window                     `json:"window"`
	Since    time.Time                  `json:"since,omitempty"`
	Total    int                        `json:"total"`
	ByStatus map[domain.OrderStatus]int `json:"byStatus"`
	Revenue  decimal.Decimal            `json:"revenue"`
	Refunds  RefundCounts               `json:"refunds"`
	Orders   []domain.Order             `json:"orders"`
}

type DashboardQuery struct {
	Status domain.OrderStatus
	Window Window
	Now    time.Time
	Loc    *time.Location
}

// Dashboard aggregates orders created inside the window. Revenue counts
// completed orders only. The status filter narrows the listed orders but the
// per-status counts always cover the whole window.
func Dashboard(orders []domain.Order, q DashboardQuery) Stats {
	st := Stats{
		Window:   q.Window,
		Since:    q.Window.Start(q.Now, q.Loc),
		ByStatus: make(map[domain.OrderStatus]int, len(domain.AllStatuses)),
		Revenue:  decimal.Zero,
		Orders:   []domain.Order{},
	}
	for _, s := range domain.AllStatuses {
		st.ByStatus[s] = 0
	}
	for i := range orders {
		o := &orders[i]
		if !q.Window.Contains(o.CreatedAt, q.Now, q.Loc) {
			continue
		}
		st.Total++
		st.ByStatus[o.Status]++
		if o.Status == domain.OrderCompleted {
			st.Revenue = st.Revenue.Add(o.Total)
		}
		for _, r := range o.RefundRequests {
			switch r.Status {
			case domain.RefundPending:
				st.Refunds.Pending++
			case domain.RefundApproved:
				st.Refunds.Approved++
			case domain.RefundRejected:
				st.Refunds.Rejected++
			}
		}
		if q.Status == "" || o.Status == q.Status {
			st.Orders = append(st.Orders, *o)
		}
	}
	sort.SliceStable(st.Orders, func(i, j int) bool { return st.Orders[i].CreatedAt.After(st.Orders[j].CreatedAt) })
	return st
}

type ShipperQueues struct {
	Ready      []domain.Order `json:"ready"`
	Delivering []domain.Order `json:"delivering"`
}

// SplitShipperQueues separates the unclaimed ready pool, oldest first, from
// the orders shipperID is currently carrying.
func SplitShipperQueues(orders []domain.Order, shipperID string) ShipperQueues {
	q := ShipperQueues{Ready: []domain.Order{}, Delivering: []domain.Order{}}
	for _, o := range orders {
		switch {
		case o.Status == domain.OrderReady && o.ShipperID == "":
			q.Ready = append(q.Ready, o)
		case o.Status == domain.OrderDelivering && o.ShipperID == shipperID:
			q.Delivering = append(q.Delivering, o)
		}
	}
	sort.SliceStable(q.Ready, func(i, j int) bool { return q.Ready[i].UpdatedAt.Before(q.Ready[j].UpdatedAt) })
	sort.SliceStable(q.Delivering, func(i, j int) bool { return q.Delivering[i].UpdatedAt.Before(q.Delivering[j].UpdatedAt) })
	return q
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type Page struct {
	Items    []domain.Order `json:"items"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
	Total    int            `json:"total"`
}

// ShipperHistory lists the finished deliveries of shipperID inside the
// window, newest first, one page at a time.
func ShipperHistory(orders []domain.Order, shipperID string, w Window, now time.Time, loc *time.Location, page, size int) Page {
	done := make([]domain.Order, 0)
	for _, o := range orders {
		if o.ShipperID != shipperID || !o.Status.Terminal() {
			continue
		}
		if !w.Contains(o.UpdatedAt, now, loc) {
			continue
		}
		done = append(done, o)
	}
	sort.SliceStable(done, func(i, j int) bool { return done[i].UpdatedAt.After(done[j].UpdatedAt) })
	return Paginate(done, page, size)
}

func Paginate(orders []domain.Order, page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	p := Page{Items: []domain.Order{}, Page: page, PageSize: size, Total: len(orders)}
	if page-1 >= (len(orders)+size-1)/size {
		return p
	}
	start := (page - 1) * size
	end := start + size
	if end > len(orders) {
		end = len(orders)
	}
	p.Items = append(p.Items, orders[start:end]...)
	return p
}

// PendingRefunds lists orders with a refund waiting for a decision, oldest
// request first.
func PendingRefunds(orders []domain.Order) []domain.Order {
	out := make([]domain.Order, 0)
	for i := range orders {
		if orders[i].PendingRefund() != nil {
			out = append(out, orders[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PendingRefund().CreatedAt.Before(out[j].PendingRefund().CreatedAt)
	})
	return out
}
