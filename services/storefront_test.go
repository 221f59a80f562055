package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/clients"
	"storefront/database"
	apperrors "storefront/errors"
	"storefront/models"
	"storefront/views"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// ---- fake shop API ----

type fakeStore struct {
	mu sync.Mutex

	key      string
	keyErr   error
	keyCalls int

	tokenResp *models.TokenResponse
	tokenErr  error
	tokenReqs []models.TokenRequest

	products       []models.Product
	productsErr    error
	productCalls   int
	beforeProducts func()

	order       *models.Order
	orderErr    error
	orderReqs   [][]models.OrderItemRequest
	orderStart  chan struct{}
	orderResume chan struct{}
	beforeOrder func()

	orders    []models.Order
	ordersErr error
}

func (f *fakeStore) PublicKey(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyCalls++
	return f.key, f.keyErr
}

func (f *fakeStore) ObtainToken(ctx context.Context, email, encryptedPassword string) (*models.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenReqs = append(f.tokenReqs, models.TokenRequest{Email: email, EncryptedPassword: encryptedPassword})
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return f.tokenResp, nil
}

func (f *fakeStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	if f.beforeProducts != nil {
		f.beforeProducts()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.productCalls++
	return append([]models.Product(nil), f.products...), f.productsErr
}

func (f *fakeStore) CreateOrder(ctx context.Context, items []models.OrderItemRequest) (*models.Order, error) {
	if f.orderStart != nil {
		f.orderStart <- struct{}{}
		<-f.orderResume
	}
	if f.beforeOrder != nil {
		f.beforeOrder()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderReqs = append(f.orderReqs, items)
	return f.order, f.orderErr
}

func (f *fakeStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	return f.orders, f.ordersErr
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	for _, o := range f.orders {
		if o.ID == orderID {
			o := o
			return &o, nil
		}
	}
	return nil, &clients.APIError{Status: http.StatusNotFound, Detail: "Not found."}
}

// ---- helpers ----

func newTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func catalogFixture() []models.Product {
	return []models.Product{
		{ID: 1, Title: "Mug", Price: 1250, StockQuantity: 2},
		{ID: 2, Title: "Cap", Price: 900, StockQuantity: 0},
		{ID: 3, Title: "Tee", Price: 1999, StockQuantity: 10},
	}
}

func newTestStorefront(t *testing.T, api StoreAPI) (*Storefront, *database.MemoryKeyStore) {
	t.Helper()
	keys := database.NewMemoryKeyStore()
	sf := NewStorefront(api, NewSession(), keys, NewRSACipher(), views.NewRenderer("€", time.DateTime), zap.NewNop())
	return sf, keys
}

func loggedInStorefront(t *testing.T, api *fakeStore) *Storefront {
	t.Helper()
	_, pub := newTestKey(t)
	api.key = pub
	api.tokenResp = &models.TokenResponse{Access: "T"}
	if api.products == nil {
		api.products = catalogFixture()
	}
	sf, _ := newTestStorefront(t, api)
	_, err := sf.Login(context.Background(), "user@x.com", "abcd")
	require.NoError(t, err)
	return sf
}

// ---- login ----

func TestLogin_SuccessLoadsProducts(t *testing.T) {
	priv, pub := newTestKey(t)
	api := &fakeStore{key: pub, tokenResp: &models.TokenResponse{Access: "T"}, products: catalogFixture()}
	sf, _ := newTestStorefront(t, api)

	res, err := sf.Login(context.Background(), "  user@x.com ", "abcd")

	require.NoError(t, err)
	assert.Equal(t, "user@x.com", res.Email)
	require.Len(t, res.Products.Options, 2)
	assert.Equal(t, "Mug (Stock: 2)", res.Products.Options[0].Label)
	assert.Equal(t, "Tee (Stock: 10)", res.Products.Options[1].Label)

	st := sf.State()
	assert.True(t, st.LoggedIn)
	assert.Equal(t, PanelOrderForm, st.Panel)
	assert.Equal(t, "Logged in user: user@x.com", st.Messages.UserInfo)
	assert.Empty(t, st.Messages.LoginError)

	// only the ciphertext leaves the process
	require.Len(t, api.tokenReqs, 1)
	sent := api.tokenReqs[0]
	assert.NotContains(t, sent.EncryptedPassword, "abcd")
	raw, err := base64.StdEncoding.DecodeString(sent.EncryptedPassword)
	require.NoError(t, err)
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, priv, raw)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(plain))
}

func TestLogin_ValidationNeverCallsAPI(t *testing.T) {
	api := &fakeStore{}
	sf, _ := newTestStorefront(t, api)

	_, err := sf.Login(context.Background(), "not-an-email", "abcd")
	assert.ErrorIs(t, err, apperrors.ErrInvalidEmail)
	assert.Equal(t, "Enter a valid email.", sf.State().Messages.LoginError)

	_, err = sf.Login(context.Background(), "user@x.com", "abc")
	assert.ErrorIs(t, err, apperrors.ErrInvalidPassword)
	assert.Equal(t, "Enter a valid password.", sf.State().Messages.LoginError)

	assert.Zero(t, api.keyCalls)
	assert.Empty(t, api.tokenReqs)
}

func TestLogin_PublicKeyFetchedOnce(t *testing.T) {
	_, pub := newTestKey(t)
	api := &fakeStore{key: pub, tokenResp: &models.TokenResponse{Detail: "No active account found with the given credentials"}}
	sf, _ := newTestStorefront(t, api)

	for i := 0; i < 3; i++ {
		_, err := sf.Login(context.Background(), "user@x.com", "wrong")
		require.Error(t, err)
	}

	assert.Equal(t, 1, api.keyCalls)
	assert.Len(t, api.tokenReqs, 3)
}

func TestLogin_PublicKeyFetchedOnceWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	keys := database.NewRedisKeyStore(client, "https://shop.example.com", time.Hour)

	_, pub := newTestKey(t)
	api := &fakeStore{key: pub, tokenResp: &models.TokenResponse{Detail: "No active account found with the given credentials"}}
	render := views.NewRenderer("€", time.DateTime)

	first := NewStorefront(api, NewSession(), keys, NewRSACipher(), render, zap.NewNop())
	for i := 0; i < 2; i++ {
		_, err := first.Login(context.Background(), "user@x.com", "wrong")
		require.Error(t, err)
	}
	// a second process talking to the same API reuses the shared key
	second := NewStorefront(api, NewSession(), keys, NewRSACipher(), render, zap.NewNop())
	_, err := second.Login(context.Background(), "user@x.com", "wrong")
	require.Error(t, err)

	assert.Equal(t, 1, api.keyCalls)
	assert.Len(t, api.tokenReqs, 3)
	cached, err := mr.Get("storefront:public-key:shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(pub), cached)

	// once the TTL runs out the key is fetched again
	mr.FastForward(2 * time.Hour)
	_, err = first.Login(context.Background(), "user@x.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, 2, api.keyCalls)
}

func TestLogin_DetailWithoutTokenIsShown(t *testing.T) {
	_, pub := newTestKey(t)
	api := &fakeStore{key: pub, tokenResp: &models.TokenResponse{Detail: "No active account found with the given credentials"}}
	sf, _ := newTestStorefront(t, api)

	_, err := sf.Login(context.Background(), "user@x.com", "abcd")

	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
	st := sf.State()
	assert.False(t, st.LoggedIn)
	assert.Equal(t, PanelWelcome, st.Panel)
	assert.Equal(t, "No active account found with the given credentials", st.Messages.LoginError)
}

func TestLogin_RateLimited(t *testing.T) {
	_, pub := newTestKey(t)
	api := &fakeStore{key: pub, tokenErr: &clients.APIError{Status: http.StatusTooManyRequests, Detail: "Too many requests"}}
	sf, _ := newTestStorefront(t, api)

	_, err := sf.Login(context.Background(), "user@x.com", "abcd")

	require.Error(t, err)
	assert.Equal(t, "Too many requests", sf.State().Messages.LoginError)
}

func TestLogin_TransportFailure(t *testing.T) {
	_, pub := newTestKey(t)
	api := &fakeStore{key: pub, tokenErr: errors.New("dial tcp: connection refused")}
	sf, _ := newTestStorefront(t, api)

	_, err := sf.Login(context.Background(), "user@x.com", "abcd")

	assert.ErrorIs(t, err, apperrors.ErrLoginTransport)
	assert.Equal(t, "Network or authentication error", sf.State().Messages.LoginError)
}

func TestLogin_PublicKeyErrors(t *testing.T) {
	api := &fakeStore{keyErr: errors.New("boom")}
	sf, _ := newTestStorefront(t, api)

	_, err := sf.Login(context.Background(), "user@x.com", "abcd")
	assert.ErrorIs(t, err, apperrors.ErrPublicKeyFetch)
	assert.Equal(t, "Could not fetch encryption key", sf.State().Messages.LoginError)

	api.keyErr = nil
	api.key = "   "
	_, err = sf.Login(context.Background(), "user@x.com", "abcd")
	assert.ErrorIs(t, err, apperrors.ErrPublicKeyNotSet)

	api.key = "-----BEGIN PUBLIC KEY-----\nbm90IGEga2V5\n-----END PUBLIC KEY-----"
	_, err = sf.Login(context.Background(), "user@x.com", "abcd")
	assert.ErrorIs(t, err, apperrors.ErrPublicKeyNotSet)
	assert.Empty(t, api.tokenReqs)
}

func TestLogin_DecryptionFailureDropsCachedKey(t *testing.T) {
	_, pub := newTestKey(t)
	api := &fakeStore{tokenErr: &clients.APIError{Status: http.StatusBadRequest, Detail: "Invalid encrypted data - decryption failed"}}
	sf, keys := newTestStorefront(t, api)
	require.NoError(t, keys.Set(context.Background(), pub))

	_, err := sf.Login(context.Background(), "user@x.com", "abcd")

	require.Error(t, err)
	assert.Equal(t, "Invalid encrypted data - decryption failed", sf.State().Messages.LoginError)
	cached, _ := keys.Get(context.Background())
	assert.Empty(t, cached)
	assert.Zero(t, api.keyCalls)
}

func TestLogin_ProductLoadFailureStillLogsIn(t *testing.T) {
	_, pub := newTestKey(t)
	api := &fakeStore{key: pub, tokenResp: &models.TokenResponse{Access: "T"}, productsErr: errors.New("timeout")}
	sf, _ := newTestStorefront(t, api)

	_, err := sf.Login(context.Background(), "user@x.com", "abcd")

	require.NoError(t, err)
	st := sf.State()
	assert.True(t, st.LoggedIn)
	assert.Equal(t, "Error loading products", st.Messages.OrderError)
	assert.Empty(t, st.Messages.LoginError)
}

func TestLogin_SessionExpiredWhileLoadingProducts(t *testing.T) {
	_, pub := newTestKey(t)
	api := &fakeStore{
		key:         pub,
		tokenResp:   &models.TokenResponse{Access: "T"},
		productsErr: apperrors.Wrap(apperrors.ErrSessionExpired, errors.New("refresh rejected")),
	}
	sf, _ := newTestStorefront(t, api)
	api.beforeProducts = sf.ExpireSession

	res, err := sf.Login(context.Background(), "user@x.com", "abcd")

	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
	st := sf.State()
	assert.False(t, st.LoggedIn)
	assert.Equal(t, PanelWelcome, st.Panel)
	assert.Equal(t, "Session expired", st.Messages.LoginError)
}

func TestLogin_PasswordLengthCountsUTF16Units(t *testing.T) {
	_, pub := newTestKey(t)
	api := &fakeStore{key: pub, tokenResp: &models.TokenResponse{Access: "T"}, products: catalogFixture()}
	sf, _ := newTestStorefront(t, api)

	// two astral characters are four code units in the browser
	_, err := sf.Login(context.Background(), "user@x.com", "😀😀")
	require.NoError(t, err)

	sf.Logout()
	_, err = sf.Login(context.Background(), "user@x.com", "éé😀")
	require.NoError(t, err)

	sf.Logout()
	_, err = sf.Login(context.Background(), "user@x.com", "ééé")
	assert.ErrorIs(t, err, apperrors.ErrInvalidPassword)
	assert.Len(t, api.tokenReqs, 2)
}

// ---- catalog and cart ----

func TestLoadProducts_LogsCatalogSize(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	api := &fakeStore{products: catalogFixture()}
	sf := NewStorefront(api, NewSession(), database.NewMemoryKeyStore(), NewRSACipher(), views.NewRenderer("€", time.DateTime), zap.New(core))

	view, err := sf.LoadProducts(context.Background())

	require.NoError(t, err)
	assert.Len(t, view.Options, 2)
	entries := logs.FilterMessage("products loaded").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 3, fields["products"])
	assert.EqualValues(t, 2, fields["in_stock"])
}

func TestLoadProducts_NoStock(t *testing.T) {
	api := &fakeStore{products: []models.Product{{ID: 2, Title: "Cap", StockQuantity: 0}}}
	sf := loggedInStorefront(t, api)

	view, err := sf.LoadProducts(context.Background())

	require.NoError(t, err)
	assert.Empty(t, view.Options)
	assert.Equal(t, views.NoStockMessage, view.Message)
}

func TestAddToCart_RejectsMoreThanStock(t *testing.T) {
	sf := loggedInStorefront(t, &fakeStore{})

	_, err := sf.AddToCart(1, 3)

	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	assert.Equal(t, "Only 2 units of this product are available.", err.Error())
	st := sf.State()
	assert.Equal(t, "Mug (Stock: 2)", st.Products[0].Label)
	assert.Equal(t, 0, st.Cart.Items)
	assert.Equal(t, err.Error(), st.Messages.OrderError)
}

func TestAddToCart_MergesAndTakesStock(t *testing.T) {
	sf := loggedInStorefront(t, &fakeStore{})

	_, err := sf.AddToCart(1, 1)
	require.NoError(t, err)
	res, err := sf.AddToCart(1, 1)
	require.NoError(t, err)

	assert.Equal(t, "Mug (Stock: 0)", res.Product.Label)
	assert.Equal(t, 1, res.Cart.Items)
	assert.Equal(t, []views.Line{
		{Text: "Mug (x2) - €25.00"},
		{Text: "Total: €25.00", Bold: true},
	}, res.Cart.Lines)

	// the exhausted option stays listed until the next reload
	assert.Len(t, sf.State().Products, 2)

	_, err = sf.AddToCart(1, 1)
	assert.ErrorIs(t, err, apperrors.ErrOutOfStock)
}

func TestAddToCart_InvalidInput(t *testing.T) {
	sf := loggedInStorefront(t, &fakeStore{})

	_, err := sf.AddToCart(0, 1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCartItem)
	_, err = sf.AddToCart(1, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCartItem)
	_, err = sf.AddToCart(99, 1)
	assert.ErrorIs(t, err, apperrors.ErrUnknownProduct)
}

// ---- checkout ----

func TestCheckout_EmptyCartMakesNoCall(t *testing.T) {
	api := &fakeStore{}
	sf, _ := newTestStorefront(t, api)

	_, err := sf.Checkout(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrEmptyCart)
	assert.Equal(t, "The cart is empty.", sf.State().Messages.OrderError)
	assert.Empty(t, api.orderReqs)
}

func TestCheckout_Success(t *testing.T) {
	api := &fakeStore{order: &models.Order{ID: 55}}
	sf := loggedInStorefront(t, api)
	_, err := sf.AddToCart(1, 2)
	require.NoError(t, err)
	loads := api.productCalls

	res, err := sf.Checkout(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 55, res.OrderID)
	assert.Equal(t, "Order created with ID: 55", res.Message)
	assert.Equal(t, 0, res.Cart.Items)
	assert.Equal(t, loads+1, api.productCalls)
	require.Len(t, api.orderReqs, 1)
	assert.Equal(t, []models.OrderItemRequest{{ProductID: 1, Quantity: 2}}, api.orderReqs[0])
	assert.Equal(t, "Order created with ID: 55", sf.State().Messages.OrderSuccess)
}

func TestCheckout_FailureKeepsCart(t *testing.T) {
	api := &fakeStore{orderErr: &clients.APIError{Status: http.StatusBadRequest, Detail: "Not enough stock for Mug"}}
	sf := loggedInStorefront(t, api)
	_, err := sf.AddToCart(1, 1)
	require.NoError(t, err)

	_, err = sf.Checkout(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrCreateOrder)
	st := sf.State()
	assert.Equal(t, "Not enough stock for Mug", st.Messages.OrderError)
	assert.Empty(t, st.Messages.OrderSuccess)
	assert.Equal(t, 1, st.Cart.Items)
}

func TestCheckout_MissingOrderID(t *testing.T) {
	api := &fakeStore{order: &models.Order{}}
	sf := loggedInStorefront(t, api)
	_, err := sf.AddToCart(3, 1)
	require.NoError(t, err)

	_, err = sf.Checkout(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrCreateOrder)
	assert.Equal(t, 1, sf.State().Cart.Items)
}

func TestCheckout_NetworkError(t *testing.T) {
	api := &fakeStore{orderErr: errors.New("connection reset")}
	sf := loggedInStorefront(t, api)
	_, err := sf.AddToCart(3, 1)
	require.NoError(t, err)

	_, err = sf.Checkout(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.Equal(t, "Network error", sf.State().Messages.OrderError)
}

func TestCheckout_RefusesConcurrentSubmit(t *testing.T) {
	api := &fakeStore{
		order:       &models.Order{ID: 7},
		orderStart:  make(chan struct{}),
		orderResume: make(chan struct{}),
	}
	sf := loggedInStorefront(t, api)
	_, err := sf.AddToCart(3, 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sf.Checkout(context.Background())
		done <- err
	}()
	<-api.orderStart

	_, err = sf.Checkout(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrBusy)

	close(api.orderResume)
	require.NoError(t, <-done)
	assert.Len(t, api.orderReqs, 1)
}

func TestCheckout_SessionExpired(t *testing.T) {
	api := &fakeStore{orderErr: apperrors.Wrap(apperrors.ErrSessionExpired, errors.New("refresh rejected"))}
	sf := loggedInStorefront(t, api)
	api.beforeOrder = sf.ExpireSession
	_, err := sf.AddToCart(3, 1)
	require.NoError(t, err)

	_, err = sf.Checkout(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
	st := sf.State()
	assert.False(t, st.LoggedIn)
	assert.Equal(t, PanelWelcome, st.Panel)
	assert.Equal(t, "Session expired", st.Messages.LoginError)
	assert.Empty(t, st.Messages.OrderError)
	assert.Equal(t, 0, st.Cart.Items)
	assert.Empty(t, st.Products)
}

// ---- orders ----

func TestLoadOrders(t *testing.T) {
	api := &fakeStore{}
	sf := loggedInStorefront(t, api)

	view, err := sf.LoadOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, views.NoOrdersMessage, view.Message)
	assert.Equal(t, PanelOrderHistory, sf.State().Panel)

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	total := models.Money(2500)
	api.orders = []models.Order{{
		ID: 4, Status: models.OrderStatusPending, CreatedAt: &created, TotalAmount: &total,
		Items: []models.OrderItem{{Product: &models.Product{Title: "Mug"}, Quantity: 2}, {Quantity: 1}},
	}}
	view, err = sf.LoadOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Orders, 1)
	assert.Equal(t, []string{
		"Order #4 - Status: PENDING",
		"Date: 2024-03-01 10:00:00",
		"Total: €25.00",
		"Products:",
		"  - Mug x2",
		"  - (deleted product) x1",
	}, view.Orders[0].Lines)

	require.NoError(t, sf.ShowOrderForm())
	assert.Equal(t, PanelOrderForm, sf.State().Panel)
}

func TestLoadOrders_Errors(t *testing.T) {
	sf, _ := newTestStorefront(t, &fakeStore{})
	_, err := sf.LoadOrders(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotLoggedIn)

	api := &fakeStore{ordersErr: errors.New("boom")}
	sf = loggedInStorefront(t, api)
	view, err := sf.LoadOrders(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrLoadOrders)
	assert.Equal(t, "Error loading orders.", view.Message)
}

func TestGetOrder(t *testing.T) {
	api := &fakeStore{orders: []models.Order{{ID: 9, Status: models.OrderStatusPaid}}}
	sf := loggedInStorefront(t, api)

	_, err := sf.GetOrder(context.Background(), 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderID)

	view, err := sf.GetOrder(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "Order #9 - Status: PAID", view.Text())

	_, err = sf.GetOrder(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, "Not found.", err.Error())
}

func TestLogoutKeepsPublicKey(t *testing.T) {
	api := &fakeStore{}
	sf := loggedInStorefront(t, api)
	_, err := sf.AddToCart(3, 1)
	require.NoError(t, err)

	sf.Logout()

	st := sf.State()
	assert.False(t, st.LoggedIn)
	assert.Equal(t, PanelWelcome, st.Panel)
	assert.Equal(t, Messages{}, st.Messages)
	assert.Equal(t, 0, st.Cart.Items)

	_, err = sf.Login(context.Background(), "user@x.com", "abcd")
	require.NoError(t, err)
	assert.Equal(t, 1, api.keyCalls)
}

// ---- end to end over HTTP ----

// TestSessionExpiresWhenRefreshFails drives the storefront through the real
// API client: the server stops accepting the token and refuses the refresh.
func TestSessionExpiresWhenRefreshFails(t *testing.T) {
	_, pub := newTestKey(t)
	var mu sync.Mutex
	valid := "T1"

	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/public-key", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.PublicKeyResponse{Key: pub})
	})
	mux.HandleFunc("/api/users/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access":"T1"}`))
	})
	mux.HandleFunc("/api/users/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
	})
	mux.HandleFunc("/api/products/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+valid
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"id":1,"title":"Mug","price":"12.50","stock_quantity":2}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	session := NewSession()
	api, err := clients.NewAPIClient(srv.URL, 5*time.Second, session, zap.NewNop())
	require.NoError(t, err)
	sf := NewStorefront(api, session, database.NewMemoryKeyStore(), NewRSACipher(), views.NewRenderer("€", time.DateTime), zap.NewNop())
	api.OnSessionExpired(sf.ExpireSession)

	_, err = sf.Login(context.Background(), "user@x.com", "abcd")
	require.NoError(t, err)
	_, err = sf.AddToCart(1, 1)
	require.NoError(t, err)

	mu.Lock()
	valid = "T2"
	mu.Unlock()
	_, err = sf.LoadProducts(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
	st := sf.State()
	assert.False(t, st.LoggedIn)
	assert.Equal(t, "Session expired", st.Messages.LoginError)
	assert.Equal(t, 0, st.Cart.Items)
	assert.Equal(t, "", session.AccessToken())
}
