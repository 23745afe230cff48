package usecase

import (
	"context"
	"time"

	"drinkshop-backend/internal/console"
	"drinkshop-backend/internal/domain"
)

// ConsoleService loads the orders each role may see and hands them to the
// console projections.
type ConsoleService struct {
	Repo     OrderRepo
	Location *time.Location
	Now      func() time.Time
}

func (s *ConsoleService) now() time.Time {
	return nowFunc(s.Now)
}

func (s *ConsoleService) CustomerHistory(ctx context.Context, actor domain.Actor, bucket console.Bucket) (console.HistoryView, error) {
	if actor.Role != domain.RoleCustomer {
		return console.HistoryView{}, domain.ErrForbidden
	}
	orders, err := s.Repo.List(ctx, domain.OrderFilter{CustomerID: actor.ID})
	if err != nil {
		return console.HistoryView{}, err
	}
	return console.CustomerView(orders, bucket), nil
}

type DashboardInput struct {
	StoreID string
	Status  domain.OrderStatus
	Window  console.Window
}

// Dashboard scopes staff to their own store. Admins see every store unless
// they ask for one.
func (s *ConsoleService) Dashboard(ctx context.Context, actor domain.Actor, in DashboardInput) (console.Stats, error) {
	storeID, err := s.storeScope(actor, in.StoreID)
	if err != nil {
		return console.Stats{}, err
	}
	if in.Status != "" && !in.Status.Valid() {
		return console.Stats{}, domain.ErrInvalidInput
	}
	orders, err := s.Repo.List(ctx, domain.OrderFilter{StoreID: storeID})
	if err != nil {
		return console.Stats{}, err
	}
	return console.Dashboard(orders, console.DashboardQuery{
		Status: in.Status,
		Window: in.Window,
		Now:    s.now(),
		Loc:    s.Location,
	}), nil
}

func (s *ConsoleService) RefundQueue(ctx context.Context, actor domain.Actor, storeID string) ([]domain.Order, error) {
	storeID, err := s.storeScope(actor, storeID)
	if err != nil {
		return nil, err
	}
	orders, err := s.Repo.List(ctx, domain.OrderFilter{
		StoreID:  storeID,
		Statuses: []domain.OrderStatus{domain.OrderCompleted, domain.OrderCancelled},
	})
	if err != nil {
		return nil, err
	}
	return console.PendingRefunds(orders), nil
}

func (s *ConsoleService) ShipperQueues(ctx context.Context, actor domain.Actor) (console.ShipperQueues, error) {
	if actor.Role != domain.RoleShipper {
		return console.ShipperQueues{}, domain.ErrForbidden
	}
	orders, err := s.Repo.List(ctx, domain.OrderFilter{
		Statuses: []domain.OrderStatus{domain.OrderReady, domain.OrderDelivering},
	})
	if err != nil {
		return console.ShipperQueues{}, err
	}
	return console.SplitShipperQueues(orders, actor.ID), nil
}

func (s *ConsoleService) ShipperHistory(ctx context.Context, actor domain.Actor, w console.Window, page, pageSize int) (console.Page, error) {
	if actor.Role != domain.RoleShipper {
		return console.Page{}, domain.ErrForbidden
	}
	now := s.now()
	orders, err := s.Repo.List(ctx, domain.OrderFilter{
		ShipperID: actor.ID,
		Statuses:  []domain.OrderStatus{domain.OrderCompleted, domain.OrderCancelled},
		Since:     w.Start(now, s.Location),
	})
	if err != nil {
		return console.Page{}, err
	}
	return console.ShipperHistory(orders, actor.ID, w, now, s.Location, page, pageSize), nil
}

func (s *ConsoleService) storeScope(actor domain.Actor, storeID string) (string, error) {
	switch actor.Role {
	case domain.RoleAdmin:
		return storeID, nil
	case domain.RoleStaff:
		if storeID != "" && storeID != actor.StoreID {
			return "", domain.ErrForbidden
		}
		return actor.StoreID, nil
	}
	return "", domain.ErrForbidden
}
