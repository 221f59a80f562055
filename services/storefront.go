package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"storefront/clients"
	"storefront/database"
	apperrors "storefront/errors"
	"storefront/models"
	"storefront/views"

	"go.uber.org/zap"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

const minPasswordLength = 4

// StoreAPI is the part of the shop API the storefront uses.
type StoreAPI interface {
	PublicKey(ctx context.Context) (string, error)
	ObtainToken(ctx context.Context, email, encryptedPassword string) (*models.TokenResponse, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	CreateOrder(ctx context.Context, items []models.OrderItemRequest) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	GetOrder(ctx context.Context, orderID int) (*models.Order, error)
}

// StorefrontService is the set of user actions both front ends drive.
type StorefrontService interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Logout()
	LoadProducts(ctx context.Context) (ProductsView, error)
	AddToCart(productID, quantity int) (*AddToCartResult, error)
	Cart() views.CartView
	Checkout(ctx context.Context) (*CheckoutResult, error)
	LoadOrders(ctx context.Context) (OrdersView, error)
	GetOrder(ctx context.Context, orderID int) (views.OrderView, error)
	ShowOrderForm() error
	State() State
}

var _ StorefrontService = (*Storefront)(nil)

// Panel is the visible part of the page.
type Panel string

const (
	PanelWelcome      Panel = "welcome"
	PanelOrderForm    Panel = "order_form"
	PanelOrderHistory Panel = "order_history"
)

// Messages are the text areas every action reports into.
type Messages struct {
	LoginError   string `json:"login_error"`
	OrderError   string `json:"order_error"`
	OrderSuccess string `json:"order_success"`
	UserInfo     string `json:"user_info"`
}

// State is a snapshot of everything the page shows.
type State struct {
	LoggedIn       bool                  `json:"logged_in"`
	Email          string                `json:"email,omitempty"`
	UserID         string                `json:"user_id,omitempty"`
	TokenExpiresAt *time.Time            `json:"token_expires_at,omitempty"`
	Panel          Panel                 `json:"panel"`
	Messages       Messages              `json:"messages"`
	Products       []views.ProductOption `json:"products"`
	Cart           views.CartView        `json:"cart"`
}

// ProductsView is the selectable product list.
type ProductsView struct {
	Options []views.ProductOption `json:"options"`
	Message string                `json:"message,omitempty"`
}

type LoginResult struct {
	Email    string       `json:"email"`
	Products ProductsView `json:"products"`
}

type AddToCartResult struct {
	Cart    views.CartView      `json:"cart"`
	Product views.ProductOption `json:"product"`
}

type CheckoutResult struct {
	OrderID  int            `json:"order_id"`
	Message  string         `json:"message"`
	Cart     views.CartView `json:"cart"`
	Products ProductsView   `json:"products"`
}

type OrdersView struct {
	Orders  []views.OrderView `json:"orders"`
	Message string            `json:"message,omitempty"`
}

type messageArea int

const (
	areaLogin messageArea = iota
	areaOrder
)

// Storefront owns the session, the cached catalog and the cart, and
// implements every user action of the page. State is only locked around
// reads and writes, never across API calls. Login and checkout refuse to
// run twice at the same time.
type Storefront struct {
	api     StoreAPI
	session *Session
	keys    database.KeyStore
	cipher  PasswordCipher
	render  views.Renderer
	logger  *zap.Logger

	mu       sync.Mutex
	catalog  *Catalog
	options  []views.ProductOption
	cart     *Cart
	panel    Panel
	messages Messages

	loginInFlight    sync.Mutex
	checkoutInFlight sync.Mutex
}

func NewStorefront(
	api StoreAPI,
	session *Session,
	keys database.KeyStore,
	cipher PasswordCipher,
	render views.Renderer,
	logger *zap.Logger,
) *Storefront {
	return &Storefront{
		api:     api,
		session: session,
		keys:    keys,
		cipher:  cipher,
		render:  render,
		logger:  logger,
		catalog: NewCatalog(),
		cart:    NewCart(),
		panel:   PanelWelcome,
	}
}

// Login validates the form, encrypts the password with the API's public key
// and exchanges the credentials for an access token. On success the catalog
// is loaded; a failed catalog load is reported in the order area but does
// not fail the login, unless the session expired while loading it.
func (s *Storefront) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) {
		return nil, s.fail(areaLogin, apperrors.ErrInvalidEmail)
	}
	if passwordLength(password) < minPasswordLength {
		return nil, s.fail(areaLogin, apperrors.ErrInvalidPassword)
	}

	if !s.loginInFlight.TryLock() {
		return nil, apperrors.ErrBusy
	}
	defer s.loginInFlight.Unlock()

	s.setMessage(areaLogin, "")

	ciphertext, usedCachedKey, err := s.encryptPassword(ctx, password)
	if err != nil {
		s.logger.Warn("password encryption failed", zap.Error(err))
		return nil, s.fail(areaLogin, err)
	}

	resp, err := s.api.ObtainToken(ctx, email, ciphertext)
	if err == nil && (resp == nil || resp.Access == "") {
		// failed logins may still answer 200
		apiErr := &clients.APIError{Status: 200}
		if resp != nil {
			apiErr.Detail = resp.Detail
		}
		err = apiErr
	}
	if err != nil {
		loginErr := loginError(err)
		if usedCachedKey && isDecryptionFailure(loginErr) {
			// the API may have rotated its key
			if invErr := s.keys.Invalidate(ctx); invErr != nil {
				s.logger.Warn("failed to invalidate cached public key", zap.Error(invErr))
			}
		}
		s.logger.Info("login rejected", zap.String("email", email), zap.Error(err))
		return nil, s.fail(areaLogin, loginErr)
	}

	s.session.Start(resp.Access, email)
	s.mu.Lock()
	s.panel = PanelOrderForm
	s.messages.LoginError = ""
	s.messages.UserInfo = fmt.Sprintf("Logged in user: %s", email)
	s.mu.Unlock()

	claims := s.session.Claims()
	s.logger.Info("login succeeded",
		zap.String("email", email),
		zap.String("user_id", claims.UserID),
		zap.Time("token_expires_at", claims.ExpiresAt),
	)

	products, err := s.LoadProducts(ctx)
	if errors.Is(err, apperrors.ErrSessionExpired) {
		return nil, err
	}
	return &LoginResult{Email: email, Products: products}, nil
}

// encryptPassword returns the base64 ciphertext and whether the key came
// from the cache.
func (s *Storefront) encryptPassword(ctx context.Context, password string) (string, bool, error) {
	key, cached, err := s.publicKey(ctx)
	if err != nil {
		return "", false, err
	}

	ciphertext, err := s.cipher.Encrypt(key, password)
	if err != nil {
		if errors.Is(err, apperrors.ErrPublicKeyNotSet) {
			if invErr := s.keys.Invalidate(ctx); invErr != nil {
				s.logger.Warn("failed to invalidate cached public key", zap.Error(invErr))
			}
		}
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return "", cached, err
		}
		return "", cached, apperrors.Wrap(apperrors.ErrEncryptionFailed, err)
	}
	if err := checkCiphertext(ciphertext); err != nil {
		return "", cached, err
	}
	return ciphertext, cached, nil
}

func (s *Storefront) publicKey(ctx context.Context) (string, bool, error) {
	key, err := s.keys.Get(ctx)
	if err != nil {
		s.logger.Warn("public key cache unavailable", zap.Error(err))
	}
	if key != "" {
		return key, true, nil
	}

	key, err = s.api.PublicKey(ctx)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrPublicKeyFetch, err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, apperrors.ErrPublicKeyNotSet
	}
	if err := s.keys.Set(ctx, key); err != nil {
		s.logger.Warn("failed to cache public key", zap.Error(err))
	}
	return key, false, nil
}

// LoadProducts replaces the cached catalog and the product options.
func (s *Storefront) LoadProducts(ctx context.Context) (ProductsView, error) {
	products, err := s.api.ListProducts(ctx)
	if err != nil {
		loadErr := upstreamError(err, apperrors.ErrLoadProducts)
		s.logger.Warn("failed to load products", zap.Error(err))
		s.fail(areaOrder, loadErr)

		s.mu.Lock()
		defer s.mu.Unlock()
		return s.productsViewLocked(), loadErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.Replace(products)
	s.options = s.render.Options(s.catalog.Available())
	s.logger.Debug("products loaded", zap.Int("products", s.catalog.Len()), zap.Int("in_stock", len(s.options)))
	if len(s.options) == 0 {
		s.messages.OrderError = views.NoStockMessage
	} else {
		s.messages.OrderError = ""
	}
	return s.productsViewLocked(), nil
}

// AddToCart puts quantity units of productID in the cart, if the cached
// stock allows it, and takes them from the cached stock.
func (s *Storefront) AddToCart(productID, quantity int) (*AddToCartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if productID == 0 || quantity <= 0 {
		return nil, s.failLocked(areaOrder, apperrors.ErrInvalidCartItem)
	}
	product, ok := s.catalog.Find(productID)
	if !ok {
		return nil, s.failLocked(areaOrder, apperrors.ErrUnknownProduct)
	}
	if product.StockQuantity <= 0 {
		return nil, s.failLocked(areaOrder, apperrors.ErrOutOfStock)
	}
	if quantity > product.StockQuantity {
		return nil, s.failLocked(areaOrder, apperrors.WithMessage(apperrors.ErrInsufficientStock,
			fmt.Sprintf("Only %d units of this product are available.", product.StockQuantity), nil))
	}

	s.cart.Add(product.ID, product.Title, quantity)
	s.catalog.Take(product.ID, quantity)
	product.StockQuantity -= quantity

	option := s.render.Option(product)
	for i := range s.options {
		if s.options[i].ID == product.ID {
			s.options[i] = option
		}
	}
	s.messages.OrderError = ""

	return &AddToCartResult{Cart: s.cartViewLocked(), Product: option}, nil
}

// Cart renders the cart with the latest cached prices.
func (s *Storefront) Cart() views.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartViewLocked()
}

// Checkout submits the whole cart as one order. An empty cart never reaches
// the API. On failure the cart is left intact.
func (s *Storefront) Checkout(ctx context.Context) (*CheckoutResult, error) {
	s.mu.Lock()
	empty := s.cart.Empty()
	s.mu.Unlock()
	if empty {
		return nil, s.fail(areaOrder, apperrors.ErrEmptyCart)
	}
	if !s.session.LoggedIn() {
		return nil, s.fail(areaLogin, apperrors.ErrNotLoggedIn)
	}

	if !s.checkoutInFlight.TryLock() {
		return nil, apperrors.ErrBusy
	}
	defer s.checkoutInFlight.Unlock()

	s.mu.Lock()
	items := s.cart.OrderItems()
	s.mu.Unlock()

	order, err := s.api.CreateOrder(ctx, items)
	if err == nil && order.ID == 0 {
		err = apperrors.ErrCreateOrder
	}
	if err != nil {
		orderErr := orderError(err)
		s.logger.Warn("checkout failed", zap.Int("lines", len(items)), zap.Error(err))
		s.mu.Lock()
		s.messages.OrderSuccess = ""
		s.mu.Unlock()
		return nil, s.fail(areaOrder, orderErr)
	}

	message := fmt.Sprintf("Order created with ID: %d", order.ID)
	s.mu.Lock()
	s.messages.OrderSuccess = message
	s.messages.OrderError = ""
	s.cart.Clear()
	s.mu.Unlock()
	s.logger.Info("order created", zap.Int("order_id", order.ID), zap.Int("lines", len(items)))

	products, _ := s.LoadProducts(ctx)
	return &CheckoutResult{
		OrderID:  order.ID,
		Message:  message,
		Cart:     s.Cart(),
		Products: products,
	}, nil
}

// LoadOrders switches to the history panel and fetches the user's orders.
func (s *Storefront) LoadOrders(ctx context.Context) (OrdersView, error) {
	if !s.session.LoggedIn() {
		return OrdersView{}, s.fail(areaLogin, apperrors.ErrNotLoggedIn)
	}
	s.mu.Lock()
	s.panel = PanelOrderHistory
	s.mu.Unlock()

	orders, err := s.api.ListOrders(ctx)
	if err != nil {
		s.logger.Warn("failed to load orders", zap.Error(err))
		loadErr := upstreamError(err, apperrors.ErrLoadOrders)
		if errors.Is(loadErr, apperrors.ErrSessionExpired) {
			s.fail(areaLogin, loadErr)
		}
		return OrdersView{Message: apperrors.ErrLoadOrders.Message}, loadErr
	}

	view := OrdersView{Orders: s.render.Orders(orders)}
	if len(orders) == 0 {
		view.Message = views.NoOrdersMessage
	}
	return view, nil
}

// GetOrder fetches and renders one order of the user.
func (s *Storefront) GetOrder(ctx context.Context, orderID int) (views.OrderView, error) {
	if orderID <= 0 {
		return views.OrderView{}, apperrors.ErrInvalidOrderID
	}
	if !s.session.LoggedIn() {
		return views.OrderView{}, s.fail(areaLogin, apperrors.ErrNotLoggedIn)
	}

	order, err := s.api.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("failed to load order", zap.Int("order_id", orderID), zap.Error(err))
		var apiErr *clients.APIError
		if errors.As(err, &apiErr) && apiErr.Detail != "" {
			return views.OrderView{}, apperrors.WithMessage(apperrors.ErrLoadOrders, apiErr.Detail, err)
		}
		loadErr := upstreamError(err, apperrors.ErrLoadOrders)
		if errors.Is(loadErr, apperrors.ErrSessionExpired) {
			s.fail(areaLogin, loadErr)
		}
		return views.OrderView{}, loadErr
	}
	return s.render.Order(*order), nil
}

// ShowOrderForm goes back from the history to the order form.
func (s *Storefront) ShowOrderForm() error {
	if !s.session.LoggedIn() {
		return apperrors.ErrNotLoggedIn
	}
	s.mu.Lock()
	s.panel = PanelOrderForm
	s.mu.Unlock()
	return nil
}

// Logout drops the session, the catalog and the cart. The cached public key
// is kept.
func (s *Storefront) Logout() {
	s.session.Clear()
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.logger.Info("logged out")
}

// ExpireSession is the forced logout run when a token refresh fails.
func (s *Storefront) ExpireSession() {
	email := s.session.Email()
	s.session.Clear()
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.logger.Warn("session expired", zap.String("email", email))
}

// State returns a snapshot of the page.
func (s *Storefront) State() State {
	claims := s.session.Claims()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		LoggedIn: s.session.LoggedIn(),
		Email:    s.session.Email(),
		UserID:   claims.UserID,
		Panel:    s.panel,
		Messages: s.messages,
		Products: append([]views.ProductOption{}, s.options...),
		Cart:     s.cartViewLocked(),
	}
	if !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		st.TokenExpiresAt = &exp
	}
	return st
}

func (s *Storefront) resetLocked() {
	s.catalog.Clear()
	s.options = nil
	s.cart.Clear()
	s.messages = Messages{}
	s.panel = PanelWelcome
}

func (s *Storefront) productsViewLocked() ProductsView {
	return ProductsView{
		Options: append([]views.ProductOption{}, s.options...),
		Message: s.messages.OrderError,
	}
}

func (s *Storefront) cartViewLocked() views.CartView {
	lines := s.cart.Lines()
	entries := make([]views.CartEntry, 0, len(lines))
	for _, l := range lines {
		entries = append(entries, views.CartEntry{
			ProductID: l.ProductID,
			Title:     l.Title,
			Quantity:  l.Quantity,
			UnitPrice: s.catalog.Price(l.ProductID),
		})
	}
	return s.render.Cart(entries)
}

func (s *Storefront) setMessage(area messageArea, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMessageLocked(area, msg)
}

func (s *Storefront) setMessageLocked(area messageArea, msg string) {
	switch area {
	case areaLogin:
		s.messages.LoginError = msg
	case areaOrder:
		s.messages.OrderError = msg
	}
}

// fail writes err into its message area and returns it. An expired session
// is always reported in the login area, the only one visible after the
// forced logout.
func (s *Storefront) fail(area messageArea, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLocked(area, err)
}

func (s *Storefront) failLocked(area messageArea, err error) error {
	if errors.Is(err, apperrors.ErrSessionExpired) {
		area = areaLogin
	}
	s.setMessageLocked(area, err.Error())
	return err
}

// upstreamError keeps session expiry as is and wraps everything else in base.
func upstreamError(err error, base *apperrors.Error) error {
	if errors.Is(err, apperrors.ErrSessionExpired) {
		return apperrors.Wrap(apperrors.ErrSessionExpired, err)
	}
	return apperrors.Wrap(base, err)
}

// loginError maps a failed token request to the message shown on the form:
// the server's detail when there is one.
func loginError(err error) error {
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Detail != "" {
			return apperrors.WithMessage(apperrors.ErrAuthentication, apiErr.Detail, err)
		}
		return apperrors.Wrap(apperrors.ErrAuthentication, err)
	}
	return apperrors.Wrap(apperrors.ErrLoginTransport, err)
}

// orderError maps a failed order submission to its message.
func orderError(err error) error {
	if errors.Is(err, apperrors.ErrSessionExpired) {
		return apperrors.Wrap(apperrors.ErrSessionExpired, err)
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Detail != "" {
			return apperrors.WithMessage(apperrors.ErrCreateOrder, apiErr.Detail, err)
		}
		return apperrors.Wrap(apperrors.ErrCreateOrder, err)
	}
	return apperrors.Wrap(apperrors.ErrNetwork, err)
}

// passwordLength counts UTF-16 code units, as the browser form did.
func passwordLength(password string) int {
	return len(utf16.Encode([]rune(password)))
}

func isDecryptionFailure(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "decrypt")
}
