package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"drinkshop-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAPI struct {
	mu        sync.Mutex
	valid     string
	refreshes atomic.Int32
	orderHits atomic.Int32
	refreshOK bool
	mux       *http.ServeMux
}

func newFakeAPI() *fakeAPI {
	f := &fakeAPI{valid: "access-2", refreshOK: true, mux: http.NewServeMux()}
	f.mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		time.Sleep(30 * time.Millisecond)
		if !f.refreshOK {
			writeErr(w, http.StatusUnauthorized, "SessionExpired")
			return
		}
		_ = json.NewEncoder(w).Encode(Credentials{AccessToken: "access-2", RefreshToken: "refresh-2"})
	})
	f.mux.HandleFunc("/api/orders/o-1", func(w http.ResponseWriter, r *http.Request) {
		f.orderHits.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+f.token() {
			writeErr(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		_ = json.NewEncoder(w).Encode(domain.Order{ID: "o-1", Status: domain.OrderReady})
	})
	return f
}

func (f *fakeAPI) token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

func writeErr(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": code, "requestId": "req-1"},
	})
}

func newTestClient(t *testing.T, h http.Handler, onExpired func()) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL, srv.Client(), onExpired, zaptest.NewLogger(t))
	c.Backoff = time.Millisecond
	c.Session.Set(Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"})
	return c
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api.mux, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchOrder(context.Background(), "o-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), api.refreshes.Load())
	assert.Equal(t, "access-2", c.Session.AccessToken())
}

func TestClient_FailedRefreshForcesLogout(t *testing.T) {
	api := newFakeAPI()
	api.refreshOK = false
	var expired atomic.Int32
	c := newTestClient(t, api.mux, func() { expired.Add(1) })

	_, err := c.FetchOrder(context.Background(), "o-1")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, int32(1), expired.Load())
	assert.Empty(t, c.Session.Credentials().RefreshToken)

	_, err = c.FetchOrder(context.Background(), "o-1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int32(1), expired.Load())
}

func TestClient_ReadsRetryGatewayErrors(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/o-1", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			writeErr(w, http.StatusServiceUnavailable, "ServerError")
			return
		}
		_ = json.NewEncoder(w).Encode(domain.Order{ID: "o-1"})
	})
	c := newTestClient(t, mux, nil)

	o, err := c.FetchOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_ReadRetriesAreBounded(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/o-1", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeErr(w, http.StatusBadGateway, "ServerError")
	})
	c := newTestClient(t, mux, nil)

	_, err := c.FetchOrder(context.Background(), "o-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, int32(c.ReadRetries), hits.Load())
}

func TestClient_MutationsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/o-1/accept", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeErr(w, http.StatusServiceUnavailable, "ServerError")
	})
	c := newTestClient(t, mux, nil)

	_, err := c.AcceptDelivery(context.Background(), "o-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_InFlightGuard(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/o-1/accept", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_ = json.NewEncoder(w).Encode(domain.Order{ID: "o-1", Status: domain.OrderDelivering})
	})
	c := newTestClient(t, mux, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.AcceptDelivery(context.Background(), "o-1")
		done <- err
	}()
	<-entered

	_, err := c.AcceptDelivery(context.Background(), "o-1")
	assert.ErrorIs(t, err, ErrRequestInFlight)
	_, err = c.UpdateOrderStatus(context.Background(), "o-1", nil, domain.OrderCompleted, "")
	assert.ErrorIs(t, err, ErrRequestInFlight)

	close(release)
	require.NoError(t, <-done)
}

func TestClient_DecodesErrorEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/o-1/accept", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusConflict, "AlreadyAssigned")
	})
	c := newTestClient(t, mux, nil)

	_, err := c.AcceptDelivery(context.Background(), "o-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyAssigned)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "req-1", apiErr.RequestID)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestClient_LocalTransitionCheck(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/o-1/status", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(domain.Order{ID: "o-1"})
	})
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tokens": Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"},
			"user":   domain.User{UserID: "stf-1", Role: domain.RoleStaff, StoreID: "store-1"},
		})
	})
	c := newTestClient(t, mux, nil)
	u, err := c.Login(context.Background(), "0901", "secret1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStaff, c.Actor().Role)
	assert.Equal(t, "stf-1", u.UserID)

	cached := &domain.Order{ID: "o-1", StoreID: "store-1", Status: domain.OrderPending, PaymentMethod: domain.PaymentCashOnDelivery}
	_, err = c.UpdateOrderStatus(context.Background(), "o-1", cached, domain.OrderCompleted, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = c.UpdateOrderStatus(context.Background(), "o-1", cached, domain.OrderCancelled, "")
	assert.ErrorIs(t, err, domain.ErrCancelReasonRequired)
	assert.Zero(t, hits.Load())

	_, err = c.UpdateOrderStatus(context.Background(), "o-1", cached, domain.OrderProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
