package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_food/internal/catalog"
	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/payment"
	"github.com/fjod/go_food/internal/repository"
	"github.com/fjod/go_food/internal/service"
	"github.com/fjod/go_food/pkg/logger"
	"github.com/fjod/go_food/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv    *httptest.Server
	store  *repository.MemoryStore
	user   *domain.User
	staff  *domain.User
	burger *domain.Item
	fries  *domain.Item
}

func setupServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	ctx := context.Background()
	log := logger.Discard()

	store := repository.NewMemoryStore(time.Second)
	user := &domain.User{Email: "abebe@example.com", FirstName: "Abebe"}
	require.NoError(t, store.CreateUser(ctx, user))
	staff := &domain.User{Email: "staff@example.com", FirstName: "Sara", IsStaff: true}
	require.NoError(t, store.CreateUser(ctx, staff))
	burger := &domain.Item{Title: "Burger", Price: decimal.RequireFromString("5.00")}
	require.NoError(t, store.CreateItem(ctx, burger))
	fries := &domain.Item{Title: "Fries", Price: decimal.RequireFromString("10.00")}
	require.NoError(t, store.CreateItem(ctx, fries))

	ts := &testServer{store: store, user: user, staff: staff, burger: burger, fries: fries}
	mux := http.NewServeMux()
	ts.srv = httptest.NewServer(mux)
	t.Cleanup(ts.srv.Close)

	gw := &payment.MockGateway{WebhookURL: ts.srv.URL + "/payments/webhook"}
	items := catalog.NewService(store, nil, log)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "test")

	mux.Handle("/", NewRouter(RouterConfig{
		Carts:          service.NewCartService(store, items, log),
		Checkout:       service.NewCheckoutService(store, log, m),
		Orders:         service.NewOrderService(store, log),
		Payments:       service.NewPaymentService(store, gw, service.PaymentConfig{CallbackURL: gw.WebhookURL}, log),
		Reconciler:     service.NewReconciler(store, gw, time.Second, log, m),
		Items:          items,
		JWTSecret:      jwtSecret,
		WebAppURL:      "https://app.example.com",
		RequestTimeout: 5 * time.Second,
		Metrics:        m,
		Gatherer:       reg,
		Log:            log,
	}))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) addToCart(t *testing.T, item *domain.Item, qty int) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/cart/items", AddItemRequestDTO{ItemID: item.ID, Quantity: qty}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCheckout_PickupScenario(t *testing.T) {
	ts := setupServer(t, "")
	ts.addToCart(t, ts.burger, 2)
	ts.addToCart(t, ts.fries, 1)

	resp := ts.do(t, http.MethodPost, "/orders", map[string]string{"delivery_option": "pickup", "pickup_branch": "atlas1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	order := decode[OrderDTO](t, resp)
	assert.Equal(t, "20.00", order.TotalPrice)
	assert.Equal(t, "Active", order.Status)
	assert.Equal(t, "Atlas Burger 1 - Main Branch", order.PickupBranchName)
	assert.Len(t, order.Items, 2)

	cart := decode[CartDTO](t, ts.do(t, http.MethodGet, "/cart/", nil, nil))
	assert.Empty(t, cart.Items)

	again := ts.do(t, http.MethodPost, "/orders", map[string]string{"delivery_option": "pickup", "pickup_branch": "atlas1"}, nil)
	assert.Equal(t, http.StatusBadRequest, again.StatusCode)
	errResp := decode[ErrorResponse](t, again)
	assert.Equal(t, "empty_cart", errResp.Code)
	assert.Equal(t, "Your cart is empty", errResp.Error)
}

func TestCheckout_DeliveryWithoutAddress(t *testing.T) {
	ts := setupServer(t, "")
	ts.addToCart(t, ts.burger, 1)

	resp := ts.do(t, http.MethodPost, "/orders", map[string]string{"delivery_option": "delivery"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_delivery_request", errResp.Code)
	assert.Equal(t, "delivery_address", errResp.Field)
	assert.False(t, errResp.Retryable)
}

func TestCheckout_UnknownFieldRejected(t *testing.T) {
	ts := setupServer(t, "")
	resp := ts.do(t, http.MethodPost, "/orders", map[string]string{"delivery_option": "pickup", "coupon": "FREE"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaymentFlow_MockGateway(t *testing.T) {
	ts := setupServer(t, "")
	ts.addToCart(t, ts.burger, 2)

	resp := ts.do(t, http.MethodPost, "/payments/initiate", map[string]string{"delivery_option": "pickup", "pickup_branch": "atlas2"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	init := decode[InitiateResponseDTO](t, resp)
	assert.Equal(t, "10.00", init.Amount)

	link, err := url.Parse(init.CheckoutURL)
	require.NoError(t, err)
	assert.Equal(t, "1", link.Query().Get("redirect"))

	// Browser follows the mock checkout link and is sent to the web app.
	first := ts.do(t, http.MethodGet, link.RequestURI(), nil, nil)
	require.Equal(t, http.StatusFound, first.StatusCode)
	loc := first.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://app.example.com/payment-success?"), loc)

	// Gateway delivers the same notification again.
	second := ts.do(t, http.MethodPost, "/payments/webhook", map[string]string{"trx_ref": init.TxRef, "status": "success"}, nil)
	require.Equal(t, http.StatusOK, second.StatusCode)
	body := decode[WebhookResponse](t, second)
	assert.Equal(t, "already_processed", body.Outcome)
	require.NotNil(t, body.OrderID)

	orders := decode[map[string][]OrderDTO](t, ts.do(t, http.MethodGet, "/orders/", nil, nil))
	require.Len(t, orders["orders"], 1)
	assert.Equal(t, *body.OrderID, orders["orders"][0].ID)
	assert.Equal(t, init.TxRef, orders["orders"][0].PaymentTxRef)
}

func TestWebhook_FormBody(t *testing.T) {
	ts := setupServer(t, "")
	ts.addToCart(t, ts.burger, 1)
	init := decode[InitiateResponseDTO](t, ts.do(t, http.MethodPost, "/payments/initiate", map[string]string{"delivery_option": "pickup", "pickup_branch": "atlas1"}, nil))

	form := url.Values{"tx_ref": {init.TxRef}, "status": {"success"}}
	resp, err := http.Post(ts.srv.URL+"/payments/webhook", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decode[WebhookResponse](t, resp).Outcome)
}

func TestWebhook_CartChangedAfterPayment(t *testing.T) {
	ts := setupServer(t, "")
	ts.addToCart(t, ts.burger, 1)
	init := decode[InitiateResponseDTO](t, ts.do(t, http.MethodPost, "/payments/initiate", map[string]string{"delivery_option": "pickup", "pickup_branch": "atlas1"}, nil))
	ts.addToCart(t, ts.fries, 3)

	resp := ts.do(t, http.MethodPost, "/payments/webhook", map[string]string{"trx_ref": init.TxRef}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[WebhookResponse](t, resp)
	assert.Equal(t, "failure", body.Outcome)
	assert.Equal(t, "amount_mismatch", body.Code)
	assert.Nil(t, body.OrderID)

	orders := decode[map[string][]OrderDTO](t, ts.do(t, http.MethodGet, "/orders/", nil, nil))
	assert.Empty(t, orders["orders"])
	cart := decode[CartDTO](t, ts.do(t, http.MethodGet, "/cart/", nil, nil))
	assert.Len(t, cart.Items, 2)
}

func TestWebhook_Errors(t *testing.T) {
	ts := setupServer(t, "")

	missing := ts.do(t, http.MethodGet, "/payments/webhook", nil, nil)
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
	assert.Equal(t, "missing_reference", decode[WebhookResponse](t, missing).Code)

	unknown := ts.do(t, http.MethodGet, "/payments/webhook?trx_ref=chapa-tx-nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
	assert.Equal(t, "not_found", decode[WebhookResponse](t, unknown).Outcome)

	redirected := ts.do(t, http.MethodGet, "/payments/webhook?trx_ref=chapa-tx-nope&redirect=1", nil, nil)
	assert.Equal(t, http.StatusFound, redirected.StatusCode)
	assert.True(t, strings.HasPrefix(redirected.Header.Get("Location"), "https://app.example.com/payment-failure?"))
}

func TestAdmin_RequiresStaff(t *testing.T) {
	ts := setupServer(t, "")
	ts.addToCart(t, ts.burger, 1)
	order := decode[OrderDTO](t, ts.do(t, http.MethodPost, "/orders", map[string]string{"delivery_option": "pickup", "pickup_branch": "atlas1"}, nil))
	path := "/admin/orders/" + order.ID + "/cancel"

	denied := ts.do(t, http.MethodPost, path, map[string]string{"reason": "duplicate"}, nil)
	assert.Equal(t, http.StatusForbidden, denied.StatusCode)

	staff := map[string]string{"X-User-ID": "2", "X-Staff": "true"}
	noReason := ts.do(t, http.MethodPost, path, map[string]string{"reason": ""}, staff)
	assert.Equal(t, http.StatusBadRequest, noReason.StatusCode)
	assert.Equal(t, "cancel_reason", decode[ErrorResponse](t, noReason).Field)

	ok := ts.do(t, http.MethodPost, path, map[string]string{"reason": "duplicate"}, staff)
	require.Equal(t, http.StatusOK, ok.StatusCode)
	cancelled := decode[OrderDTO](t, ok)
	assert.Equal(t, "Cancelled", cancelled.Status)
	assert.Equal(t, "duplicate", cancelled.CancelReason)

	illegal := ts.do(t, http.MethodPatch, "/admin/orders/"+order.ID+"/status", map[string]string{"status": "Shipped"}, staff)
	assert.Equal(t, http.StatusConflict, illegal.StatusCode)
	assert.Equal(t, "illegal_transition", decode[ErrorResponse](t, illegal).Code)
}

func TestOrders_OtherUserCannotRead(t *testing.T) {
	ts := setupServer(t, "")
	ts.addToCart(t, ts.burger, 1)
	order := decode[OrderDTO](t, ts.do(t, http.MethodPost, "/orders", map[string]string{"delivery_option": "pickup", "pickup_branch": "atlas1"}, nil))

	resp := ts.do(t, http.MethodGet, "/orders/"+order.ID, nil, map[string]string{"X-User-ID": "2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bad := ts.do(t, http.MethodGet, "/orders/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCart_Operations(t *testing.T) {
	ts := setupServer(t, "")
	ts.addToCart(t, ts.burger, 1)

	cart := decode[CartDTO](t, ts.do(t, http.MethodGet, "/cart/", nil, nil))
	require.Len(t, cart.Items, 1)
	lineID := cart.Items[0].LineID

	updated := decode[CartDTO](t, ts.do(t, http.MethodPatch, "/cart/items/"+itoa(lineID), UpdateQuantityRequestDTO{Quantity: 3}, nil))
	assert.Equal(t, "15.00", updated.Total)

	bad := ts.do(t, http.MethodPatch, "/cart/items/"+itoa(lineID), UpdateQuantityRequestDTO{Quantity: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	assert.Equal(t, "quantity", decode[ErrorResponse](t, bad).Field)

	missing := ts.do(t, http.MethodPost, "/cart/items", AddItemRequestDTO{ItemID: 999, Quantity: 1}, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	removed := decode[map[string]int](t, ts.do(t, http.MethodDelete, "/cart/", nil, nil))
	assert.Equal(t, 1, removed["removed"])
}

func TestItems_Get(t *testing.T) {
	ts := setupServer(t, "")

	resp := ts.do(t, http.MethodGet, "/items/"+itoa(ts.fries.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10.00", decode[ItemDTO](t, resp).Price)

	missing := ts.do(t, http.MethodGet, "/items/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	ts := setupServer(t, secret)

	anon := ts.do(t, http.MethodGet, "/cart/", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, anon.StatusCode)

	forged, err := IssueToken("other-secret", ts.user.ID, false, time.Hour)
	require.NoError(t, err)
	bad := ts.do(t, http.MethodGet, "/cart/", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	expired, err := IssueToken(secret, ts.user.ID, false, -time.Minute)
	require.NoError(t, err)
	old := ts.do(t, http.MethodGet, "/cart/", nil, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, old.StatusCode)

	token, err := IssueToken(secret, ts.user.ID, false, time.Hour)
	require.NoError(t, err)
	ok := ts.do(t, http.MethodGet, "/cart/", nil, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, ok.StatusCode)

	admin := ts.do(t, http.MethodPatch, "/admin/orders/"+"00000000-0000-0000-0000-000000000000/status",
		map[string]string{"status": "Processing"}, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusForbidden, admin.StatusCode)

	staffToken, err := IssueToken(secret, ts.staff.ID, true, time.Hour)
	require.NoError(t, err)
	notFound := ts.do(t, http.MethodPatch, "/admin/orders/"+"00000000-0000-0000-0000-000000000000/status",
		map[string]string{"status": "Processing"}, map[string]string{"Authorization": "Bearer " + staffToken})
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupServer(t, "")

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, nil).StatusCode)
	resp := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestRequestID_Echoed(t *testing.T) {
	ts := setupServer(t, "")

	resp := ts.do(t, http.MethodGet, "/health", nil, map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))

	generated := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.NotEmpty(t, generated.Header.Get("X-Request-ID"))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
