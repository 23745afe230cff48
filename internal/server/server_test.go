package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"drinkshop-backend/internal/config"
	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/infrastructure/bankqr"
	"drinkshop-backend/internal/infrastructure/cache"
	"drinkshop-backend/internal/infrastructure/events"
	"drinkshop-backend/internal/infrastructure/media"
	"drinkshop-backend/internal/infrastructure/repo"
	"drinkshop-backend/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

const webhookSecret = "bank-secret"

type ServerSuite struct {
	suite.Suite
	handler  http.Handler
	bank     *bankqr.Client
	admin    string
	staff    string
	shipperA string
	shipperB string
	customer string
	other    string
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(s.T())
	cfg := config.Default()
	cfg.MediaDir = s.T().TempDir()

	orders := repo.NewMemoryOrderRepo()
	carts := cache.NewMemoryCartStore()
	publisher := events.NewLogPublisher(logger)
	bank, err := bankqr.NewClient(bankqr.Config{
		BankBIN:       "970436",
		AccountNo:     "0011001234567",
		AccountName:   "DRINKSHOP",
		WebhookSecret: webhookSecret,
	})
	s.Require().NoError(err)
	s.bank = bank

	auth := &usecase.AuthService{Repo: repo.NewMemoryUserRepo(), JWTSecret: "test-secret", Logger: logger}
	payments := &usecase.PaymentService{Repo: orders, QR: bank, Events: publisher, Logger: logger, Window: 30 * time.Second}
	promos := usecase.NewStaticPromoBook(nil)
	srv := New(cfg, Deps{
		Auth: auth,
		Orders: &usecase.OrderService{
			Repo: orders, Carts: carts, Promos: promos, Idempotency: cache.NewMemoryIdempotency(),
			Payments: payments, Events: publisher, Logger: logger, DeliveryFee: decimal.NewFromInt(15000),
		},
		Payments: payments,
		Refunds:  &usecase.RefundService{Repo: orders, Events: publisher, Logger: logger},
		Carts:    &usecase.CartService{Carts: carts, Promos: promos, DeliveryFee: decimal.NewFromInt(15000), Logger: logger},
		Console:  &usecase.ConsoleService{Repo: orders, Location: time.UTC},
		Bank:     bank,
		Media:    media.NewFSWriter(cfg.MediaDir, ""),
		Logger:   logger,
	})
	s.handler = srv.Handler()

	s.Require().NoError(auth.EnsureAdmin(context.Background(), "0900000000", "admin123"))
	s.admin = s.login("0900000000", "admin123")
	s.staff = s.createUser("0911111111", domain.RoleStaff, "store-1")
	s.shipperA = s.createUser("0922222222", domain.RoleShipper, "")
	s.shipperB = s.createUser("0933333333", domain.RoleShipper, "")
	s.customer = s.register("0944444444")
	s.other = s.register("0955555555")
}

func (s *ServerSuite) do(method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if raw, ok := body.(string); ok {
		buf.WriteString(raw)
	} else if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *ServerSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *ServerSuite) errorCode(w *httptest.ResponseRecorder) string {
	var env struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"requestId"`
			OrderID   string `json:"orderId"`
		} `json:"error"`
	}
	s.decode(w, &env)
	s.NotEmpty(env.Error.RequestID)
	return env.Error.Code
}

func (s *ServerSuite) login(phone, password string) string {
	w := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"phone": phone, "password": password}, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Tokens usecase.TokenPair `json:"tokens"`
	}
	s.decode(w, &out)
	return out.Tokens.AccessToken
}

func (s *ServerSuite) register(phone string) string {
	w := s.do(http.MethodPost, "/api/auth/register", "", usecase.RegisterInput{Phone: phone, Name: "c", Password: "secret1"}, nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Tokens usecase.TokenPair `json:"tokens"`
	}
	s.decode(w, &out)
	return out.Tokens.AccessToken
}

func (s *ServerSuite) createUser(phone string, role domain.Role, storeID string) string {
	w := s.do(http.MethodPost, "/api/admin/users", s.admin, usecase.CreateUserInput{
		Phone: phone, Name: string(role), Password: "secret1", Role: role, StoreID: storeID,
	}, nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	return s.login(phone, "secret1")
}

func (s *ServerSuite) createOrder(method domain.PaymentMethod, key string) domain.Order {
	body := map[string]any{
		"storeId":         "store-1",
		"deliveryAddress": "12 Nguyen Hue",
		"phone":           "0944444444",
		"paymentMethod":   method,
		"items": []map[string]any{
			{"productRef": "milk-tea", "quantity": 2, "unitPrice": 45000},
		},
	}
	var headers map[string]string
	if key != "" {
		headers = map[string]string{"Idempotency-Key": key}
	}
	w := s.do(http.MethodPost, "/api/orders", s.customer, body, headers)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var o domain.Order
	s.decode(w, &o)
	return o
}

func (s *ServerSuite) setStatus(token, id string, to domain.OrderStatus, reason string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/api/orders/"+id+"/status", token, map[string]string{"status": string(to), "cancelReason": reason}, nil)
}

func (s *ServerSuite) TestHealthAndAuth() {
	w := s.do(http.MethodGet, "/health", "", nil, nil)
	s.Equal(http.StatusOK, w.Code)
	s.NotEmpty(w.Header().Get("X-Request-ID"))

	w = s.do(http.MethodGet, "/api/orders/abc", "", nil, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("Unauthorized", s.errorCode(w))

	w = s.do(http.MethodGet, "/api/orders/abc", "garbage", nil, nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"phone": "0944444444", "password": "nope123"}, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("InvalidCredentials", s.errorCode(w))

	w = s.do(http.MethodPost, "/api/admin/users", s.customer, usecase.CreateUserInput{Phone: "1", Password: "secret1", Role: domain.RoleAdmin}, nil)
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *ServerSuite) TestOrderLifecycleOverHTTP() {
	o := s.createOrder(domain.PaymentCashOnDelivery, "tap-1")
	s.Equal(domain.OrderPending, o.Status)
	s.True(o.Total.Equal(decimal.NewFromInt(105000)))

	w := s.do(http.MethodPost, "/api/orders", s.customer, map[string]any{
		"storeId": "store-1", "deliveryAddress": "x", "phone": "y", "paymentMethod": "cash_on_delivery",
		"items": []map[string]any{{"productRef": "tea", "quantity": 1, "unitPrice": 1000}},
	}, map[string]string{"Idempotency-Key": "tap-1"})
	s.Equal(http.StatusConflict, w.Code)
	var dup struct {
		Error struct {
			Code    string `json:"code"`
			OrderID string `json:"orderId"`
		} `json:"error"`
	}
	s.decode(w, &dup)
	s.Equal("DuplicateCheckout", dup.Error.Code)
	s.Equal(o.ID, dup.Error.OrderID)

	w = s.setStatus(s.staff, o.ID, domain.OrderCompleted, "")
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("InvalidTransition", s.errorCode(w))

	for _, st := range []domain.OrderStatus{domain.OrderProcessing, domain.OrderPreparing, domain.OrderReady} {
		w = s.setStatus(s.staff, o.ID, st, "")
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/api/orders/"+o.ID+"/accept", s.customer, nil, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/orders/"+o.ID+"/accept", s.shipperA, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/orders/"+o.ID+"/accept", s.shipperB, nil, nil)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("AlreadyAssigned", s.errorCode(w))

	w = s.setStatus(s.shipperA, o.ID, domain.OrderCompleted, "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/orders/"+o.ID, s.other, nil, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/orders/"+o.ID+"/refunds", s.customer, domain.RefundSubmission{
		Reason: domain.ReasonMissingItem, EvidenceImage: "/media/x/a.jpg",
	}, nil)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("IncompleteRefundSubmission", s.errorCode(w))

	w = s.do(http.MethodPost, "/api/orders/"+o.ID+"/refunds", s.customer, domain.RefundSubmission{
		Reason: domain.ReasonMissingItem, EvidenceImage: "/media/x/a.jpg", EvidenceVideo: "/media/x/b.mp4",
	}, nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var r domain.RefundRequest
	s.decode(w, &r)

	w = s.do(http.MethodGet, "/api/console/refunds", s.staff, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), o.ID)

	w = s.do(http.MethodPost, "/api/refunds/"+r.ID+"/resolve", s.staff, map[string]string{"decision": "approve"}, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/refunds/"+r.ID+"/resolve", s.staff, map[string]string{"decision": "reject"}, nil)
	s.Equal(http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/orders?bucket=refunded", s.customer, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var hist struct {
		Items []domain.Order `json:"items"`
	}
	s.decode(w, &hist)
	s.Len(hist.Items, 1)
}

func (s *ServerSuite) TestMalformedBody() {
	w := s.do(http.MethodPost, "/api/orders", s.customer, "{not json", nil)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("BadRequest", s.errorCode(w))
}

func (s *ServerSuite) TestCartCheckout() {
	w := s.do(http.MethodPost, "/api/cart/items", s.customer, map[string]any{
		"storeId": "store-1", "productRef": "tea", "quantity": 2, "unitPrice": 20000,
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPatch, "/api/cart/items/tea", s.customer, map[string]int{"quantity": 3}, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var view usecase.CartView
	s.decode(w, &view)
	s.True(view.Total.Equal(decimal.NewFromInt(75000)))

	w = s.do(http.MethodPost, "/api/orders/checkout", s.customer, map[string]string{
		"deliveryAddress": "12 Nguyen Hue", "phone": "0944444444", "paymentMethod": "cash_on_delivery",
	}, map[string]string{"Idempotency-Key": "cart-1"})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/cart", s.customer, nil, nil)
	s.decode(w, &view)
	s.Empty(view.Items)
}

func (s *ServerSuite) signedWebhook(body []byte, secretOverride string) *httptest.ResponseRecorder {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := s.bank.Sign(ts, body)
	if secretOverride != "" {
		sig = secretOverride
	}
	return s.do(http.MethodPost, "/api/payments/webhook", "", string(body), map[string]string{
		"X-Timestamp": ts,
		"X-Signature": sig,
	})
}

func (s *ServerSuite) TestBankWebhookConfirmsPayment() {
	o := s.createOrder(domain.PaymentQRTransfer, "")

	w := s.do(http.MethodGet, "/api/orders/"+o.ID+"/payment", s.customer, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var ps usecase.PaymentSession
	s.decode(w, &ps)
	s.Equal(domain.GatewayAwaiting, ps.State)
	s.Require().NotNil(ps.QR)

	body := []byte(fmt.Sprintf(`{"transactionId":"FT001","amount":%s,"description":"CT %s chuyen tien"}`, o.Total.String(), o.OrderNumber))

	w = s.signedWebhook(body, strings.Repeat("0", 64))
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.signedWebhook(body, "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Contains(w.Body.String(), "confirmed")

	w = s.do(http.MethodGet, "/api/orders/"+o.ID, s.staff, nil, nil)
	var got domain.Order
	s.decode(w, &got)
	s.Equal(domain.OrderProcessing, got.Status)
	s.Equal("FT001", got.PaymentRef)

	short := []byte(fmt.Sprintf(`{"transactionId":"FT002","amount":1,"description":"%s"}`, s.createOrder(domain.PaymentQRTransfer, "").OrderNumber))
	w = s.signedWebhook(short, "")
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "AmountMismatch")
}

func (s *ServerSuite) TestPaymentAbandonRetry() {
	o := s.createOrder(domain.PaymentQRTransfer, "")

	w := s.do(http.MethodPost, "/api/orders/"+o.ID+"/payment/abandon", s.customer, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	w = s.setStatus(s.staff, o.ID, domain.OrderProcessing, "")
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("PaymentNotConfirmed", s.errorCode(w))

	w = s.do(http.MethodPost, "/api/orders/"+o.ID+"/payment/retry", s.customer, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var ps usecase.PaymentSession
	s.decode(w, &ps)
	s.Equal(domain.GatewayAwaiting, ps.State)
}

func (s *ServerSuite) TestUpload() {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "spill.png")
	s.Require().NoError(err)
	_, _ = part.Write([]byte("png-bytes"))
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.customer)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var st media.Stored
	s.decode(w, &st)
	s.Equal(media.KindImage, st.Kind)
	s.True(strings.HasPrefix(st.Ref, "/media/"))

	w = s.do(http.MethodGet, st.Ref, "", nil, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("png-bytes", w.Body.String())
}

func (s *ServerSuite) TestConsoleViews() {
	o := s.createOrder(domain.PaymentCashOnDelivery, "")
	for _, st := range []domain.OrderStatus{domain.OrderProcessing, domain.OrderPreparing, domain.OrderReady} {
		s.Require().Equal(http.StatusOK, s.setStatus(s.staff, o.ID, st, "").Code)
	}

	w := s.do(http.MethodGet, "/api/console/dashboard?window=day", s.staff, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var stats struct {
		Total int `json:"total"`
	}
	s.decode(w, &stats)
	s.Equal(1, stats.Total)

	w = s.do(http.MethodGet, "/api/console/dashboard?storeId=store-9", s.staff, nil, nil)
	s.Equal(http.StatusForbidden, w.Code)
	w = s.do(http.MethodGet, "/api/console/dashboard?window=year", s.staff, nil, nil)
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodGet, "/api/console/shipper/queues", s.shipperA, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), o.ID)

	w = s.do(http.MethodGet, "/api/console/shipper/history?window=week&page=1&pageSize=5", s.shipperA, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var page struct {
		PageSize int `json:"pageSize"`
		Total    int `json:"total"`
	}
	s.decode(w, &page)
	s.Equal(5, page.PageSize)
	s.Zero(page.Total)
}

func (s *ServerSuite) TestHistoryCountsCoverAllBuckets() {
	s.createOrder(domain.PaymentCashOnDelivery, "")
	s.createOrder(domain.PaymentCashOnDelivery, "")

	type history struct {
		Items  []domain.Order  `json:"items"`
		Counts map[string]int `json:"counts"`
	}
	var all, delivering history
	w := s.do(http.MethodGet, "/api/orders", s.customer, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &all)
	s.Len(all.Items, 2)
	s.Equal(2, all.Counts["preparing"])

	w = s.do(http.MethodGet, "/api/orders?bucket=delivering", s.customer, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &delivering)
	s.Empty(delivering.Items)
	s.Equal(all.Counts, delivering.Counts)
}

func (s *ServerSuite) TestCheckoutReplayReportsFirstOrder() {
	w := s.do(http.MethodPost, "/api/cart/items", s.customer, map[string]any{
		"storeId": "store-1", "productRef": "tea", "quantity": 1, "unitPrice": 20000,
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	body := map[string]string{"deliveryAddress": "12 Nguyen Hue", "phone": "0944444444", "paymentMethod": "cash_on_delivery"}
	key := map[string]string{"Idempotency-Key": "double-tap"}
	w = s.do(http.MethodPost, "/api/orders/checkout", s.customer, body, key)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var first domain.Order
	s.decode(w, &first)

	w = s.do(http.MethodPost, "/api/orders/checkout", s.customer, body, key)
	s.Equal(http.StatusConflict, w.Code)
	var dup struct {
		Error struct {
			Code    string `json:"code"`
			OrderID string `json:"orderId"`
		} `json:"error"`
	}
	s.decode(w, &dup)
	s.Equal("DuplicateCheckout", dup.Error.Code)
	s.Equal(first.ID, dup.Error.OrderID)
}

func (s *ServerSuite) TestShipperHistoryHugePage() {
	w := s.do(http.MethodGet, "/api/console/shipper/history?page=184467440737095517&pageSize=100", s.shipperA, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Items []domain.Order `json:"items"`
	}
	s.decode(w, &page)
	s.Empty(page.Items)
}
