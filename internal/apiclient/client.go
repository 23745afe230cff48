package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/usecase"

	"go.uber.org/zap"
)

// ErrRequestInFlight rejects a mutation while the same one is still
// outstanding, so a double tap never reaches the server twice.
var ErrRequestInFlight = errors.New("request already in flight")

// APIError is a decoded error envelope. It unwraps to the matching domain
// sentinel so callers can use errors.Is.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	OrderID   string

	token string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return domain.ErrorFromCode(e.Code)
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
		OrderID   string `json:"orderId"`
	} `json:"error"`
}

type Client struct {
	BaseURL     string
	HTTP        *http.Client
	Session     *TokenSession
	Logger      *zap.Logger
	ReadRetries int
	Backoff     time.Duration

	mu       sync.Mutex
	actor    domain.Actor
	inflight map[string]struct{}
}

// New builds a client whose session refreshes through the API itself.
// onExpired runs when the session can no longer be renewed.
func New(baseURL string, httpClient *http.Client, onExpired func(), logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        httpClient,
		Logger:      logger,
		ReadRetries: 3,
		Backoff:     200 * time.Millisecond,
		inflight:    make(map[string]struct{}),
	}
	c.Session = NewTokenSession(c.refreshTokens, onExpired, logger)
	return c
}

// Actor is the signed-in user as last reported by the server.
func (c *Client) Actor() domain.Actor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actor
}

type authResponse struct {
	Tokens Credentials `json:"tokens"`
	User   domain.User `json:"user"`
}

func (c *Client) Login(ctx context.Context, phone, password string) (*domain.User, error) {
	var out authResponse
	body := map[string]string{"phone": phone, "password": password}
	if err := c.send(ctx, http.MethodPost, "/api/auth/login", body, nil, &out, false); err != nil {
		return nil, err
	}
	c.signedIn(out)
	return &out.User, nil
}

func (c *Client) Register(ctx context.Context, in usecase.RegisterInput) (*domain.User, error) {
	var out authResponse
	if err := c.send(ctx, http.MethodPost, "/api/auth/register", in, nil, &out, false); err != nil {
		return nil, err
	}
	c.signedIn(out)
	return &out.User, nil
}

func (c *Client) Logout() {
	c.Session.Clear()
	c.mu.Lock()
	c.actor = domain.Actor{}
	c.mu.Unlock()
}

func (c *Client) signedIn(out authResponse) {
	c.Session.Set(out.Tokens)
	c.mu.Lock()
	c.actor = out.User.Actor()
	c.mu.Unlock()
}

func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (Credentials, error) {
	var out Credentials
	body := map[string]string{"refreshToken": refreshToken}
	err := c.send(ctx, http.MethodPost, "/api/auth/refresh", body, nil, &out, false)
	return out, err
}

// CreateOrder submits an explicit cart snapshot. idempotencyKey should stay
// the same across user retries of one checkout.
func (c *Client) CreateOrder(ctx context.Context, in usecase.CreateOrderInput, idempotencyKey string) (*domain.Order, error) {
	done, err := c.guard("create:" + idempotencyKey)
	if err != nil {
		return nil, err
	}
	defer done()
	var out domain.Order
	if err := c.authorized(ctx, http.MethodPost, "/api/orders", in, idempotencyHeader(idempotencyKey), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Checkout(ctx context.Context, in usecase.CheckoutInput, idempotencyKey string) (*domain.Order, error) {
	done, err := c.guard("checkout")
	if err != nil {
		return nil, err
	}
	defer done()
	var out domain.Order
	if err := c.authorized(ctx, http.MethodPost, "/api/orders/checkout", in, idempotencyHeader(idempotencyKey), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchOrder(ctx context.Context, id string) (*domain.Order, error) {
	var out domain.Order
	if err := c.read(ctx, "/api/orders/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateOrderStatus asks the server to move the order to status. When cached
// is given the transition is checked locally first and a request that cannot
// succeed is never sent. The server stays authoritative either way.
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, cached *domain.Order, to domain.OrderStatus, cancelReason string) (*domain.Order, error) {
	if cached != nil {
		if err := domain.CheckTransition(cached, c.Actor(), to, cancelReason); err != nil {
			return nil, err
		}
	}
	done, err := c.guard("status:" + id)
	if err != nil {
		return nil, err
	}
	defer done()
	body := map[string]string{"status": string(to), "cancelReason": cancelReason}
	var out domain.Order
	if err := c.authorized(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(id)+"/status", body, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptDelivery claims a ready order. Losing the race yields an error that
// matches domain.ErrAlreadyAssigned.
func (c *Client) AcceptDelivery(ctx context.Context, id string) (*domain.Order, error) {
	done, err := c.guard("status:" + id)
	if err != nil {
		return nil, err
	}
	defer done()
	var out domain.Order
	if err := c.authorized(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(id)+"/accept", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PaymentSession(ctx context.Context, id string, wait bool) (*usecase.PaymentSession, error) {
	path := "/api/orders/" + url.PathEscape(id) + "/payment"
	if wait {
		path += "?wait=1"
	}
	var out usecase.PaymentSession
	if err := c.read(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitRefund(ctx context.Context, orderID string, sub domain.RefundSubmission) (*domain.RefundRequest, error) {
	done, err := c.guard("refund:" + orderID)
	if err != nil {
		return nil, err
	}
	defer done()
	var out domain.RefundRequest
	if err := c.authorized(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(orderID)+"/refunds", sub, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResolveRefund(ctx context.Context, refundID string, decision domain.RefundDecision) (*domain.RefundRequest, error) {
	done, err := c.guard("resolve:" + refundID)
	if err != nil {
		return nil, err
	}
	defer done()
	body := map[string]string{"decision": string(decision)}
	var out domain.RefundRequest
	if err := c.authorized(ctx, http.MethodPost, "/api/refunds/"+url.PathEscape(refundID)+"/resolve", body, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) guard(key string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		c.inflight = make(map[string]struct{})
	}
	if _, busy := c.inflight[key]; busy {
		return nil, ErrRequestInFlight
	}
	c.inflight[key] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}, nil
}

// read is an authorized GET retried with exponential backoff on transport
// failures and gateway errors.
func (c *Client) read(ctx context.Context, path string, out any) error {
	retries := c.ReadRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.Backoff
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.Logger.Debug("retrying read", zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(lastErr))
		}
		lastErr = c.authorized(ctx, http.MethodGet, path, nil, nil, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// authorized sends one request with the session token. A 401 triggers one
// shared refresh and a single replay; a second 401 ends the session.
func (c *Client) authorized(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	err := c.send(ctx, method, path, body, header, out, true)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}
	rejected := apiErr.token
	tok, rerr := c.Session.Refresh(ctx, rejected)
	if rerr != nil {
		return rerr
	}
	if tok == rejected {
		c.Session.Expire()
		return domain.ErrSessionExpired
	}
	err = c.send(ctx, method, path, body, header, out, true)
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.Session.Expire()
		return domain.ErrSessionExpired
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body any, header http.Header, out any, auth bool) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	token := ""
	if auth {
		if token, err = c.Session.Authorize(req); err != nil {
			return err
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transportError{err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: err}
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody, token)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func decodeError(status int, body []byte, token string) error {
	e := &APIError{Status: status, token: token}
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Code != "" {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		e.RequestID = env.Error.RequestID
		e.OrderID = env.Error.OrderID
		return e
	}
	e.Code = "ServerError"
	e.Message = strings.TrimSpace(string(body))
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func idempotencyHeader(key string) http.Header {
	if key == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Idempotency-Key", key)
	return h
}
