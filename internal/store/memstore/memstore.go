// Package memstore keeps every record in process memory. It backs the
// "memory" store driver and the service tests.
//
// A single mutex serializes all access. WithinTx holds it for the whole
// callback and restores a snapshot when the callback fails.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout-api/internal/models"
)

type txKey struct{}

type Store struct {
	mu   sync.Mutex
	data *dataset
}

type dataset struct {
	products      map[string]models.Product
	carts         map[string]models.Cart // by user id
	orders        map[string]models.Order
	orderByIntent map[string]string
	orderByNumber map[string]string
	users         map[string]models.User
	userByEmail   map[string]string
}

func newDataset() *dataset {
	return &dataset{
		products:      map[string]models.Product{},
		carts:         map[string]models.Cart{},
		orders:        map[string]models.Order{},
		orderByIntent: map[string]string{},
		orderByNumber: map[string]string{},
		users:         map[string]models.User{},
		userByEmail:   map[string]string{},
	}
}

func New() *Store {
	return &Store{data: newDataset()}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.products {
		c.products[k] = copyProduct(v)
	}
	for k, v := range d.carts {
		c.carts[k] = copyCart(v)
	}
	for k, v := range d.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range d.orderByIntent {
		c.orderByIntent[k] = v
	}
	for k, v := range d.orderByNumber {
		c.orderByNumber[k] = v
	}
	for k, v := range d.users {
		c.users[k] = copyUser(v)
	}
	for k, v := range d.userByEmail {
		c.userByEmail[k] = v
	}
	return c
}

// WithinTx runs fn with exclusive access to the store. Nested calls join
// the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
		}
		s.mu.Unlock()
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the mutex unless ctx already runs inside WithinTx
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Close(context.Context) error { return nil }

// Products

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	defer s.lock(ctx)()
	p, ok := s.data.products[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := copyProduct(p)
	return &out, nil
}

func (s *Store) ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, int64, error) {
	defer s.lock(ctx)()

	search := strings.ToLower(f.Search)
	var matched []models.Product
	for _, p := range s.data.products {
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		if f.Featured && !p.IsFeatured {
			continue
		}
		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		matched = append(matched, copyProduct(p))
	}
	sort.Slice(matched, func(i, j int) bool {
		return newerFirst(matched[i].CreatedAt, matched[j].CreatedAt, matched[i].ID, matched[j].ID)
	})
	return paginate(matched, f.Page), int64(len(matched)), nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	defer s.lock(ctx)()
	if _, ok := s.data.products[p.ID]; ok {
		return models.ErrDuplicate
	}
	s.data.products[p.ID] = copyProduct(*p)
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	defer s.lock(ctx)()
	if _, ok := s.data.products[p.ID]; !ok {
		return models.ErrNotFound
	}
	s.data.products[p.ID] = copyProduct(*p)
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	defer s.lock(ctx)()
	if _, ok := s.data.products[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.data.products, id)
	return nil
}

func (s *Store) DecrementStock(ctx context.Context, id string, qty int) error {
	defer s.lock(ctx)()
	p, ok := s.data.products[id]
	if !ok {
		return models.ErrNotFound
	}
	if p.Stock < qty {
		return models.ErrInsufficientStock
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	s.data.products[id] = p
	return nil
}

func (s *Store) IncrementStock(ctx context.Context, id string, qty int) error {
	defer s.lock(ctx)()
	p, ok := s.data.products[id]
	if !ok {
		return models.ErrNotFound
	}
	p.Stock += qty
	p.UpdatedAt = time.Now().UTC()
	s.data.products[id] = p
	return nil
}

// Carts

func (s *Store) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	defer s.lock(ctx)()
	c, ok := s.data.carts[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := copyCart(c)
	return &out, nil
}

func (s *Store) SaveCart(ctx context.Context, c *models.Cart) error {
	defer s.lock(ctx)()
	if existing, ok := s.data.carts[c.UserID]; ok && existing.ID != c.ID {
		return models.ErrDuplicate
	}
	s.data.carts[c.UserID] = copyCart(*c)
	return nil
}

// Orders

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	defer s.lock(ctx)()
	if _, ok := s.data.orders[o.ID]; ok {
		return models.ErrDuplicate
	}
	if _, ok := s.data.orderByNumber[o.OrderNumber]; ok {
		return models.ErrDuplicate
	}
	if o.PaymentIntentID != "" {
		if _, ok := s.data.orderByIntent[o.PaymentIntentID]; ok {
			return models.ErrDuplicate
		}
		s.data.orderByIntent[o.PaymentIntentID] = o.ID
	}
	s.data.orderByNumber[o.OrderNumber] = o.ID
	s.data.orders[o.ID] = copyOrder(*o)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.data.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := copyOrder(o)
	return &out, nil
}

func (s *Store) GetOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	defer s.lock(ctx)()
	id, ok := s.data.orderByIntent[intentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := copyOrder(s.data.orders[id])
	return &out, nil
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int64, error) {
	defer s.lock(ctx)()
	var matched []models.Order
	for _, o := range s.data.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, copyOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool {
		return newerFirst(matched[i].CreatedAt, matched[j].CreatedAt, matched[i].ID, matched[j].ID)
	})
	return paginate(matched, f.Page), int64(len(matched)), nil
}

func (s *Store) UpdateOrder(ctx context.Context, o *models.Order) error {
	defer s.lock(ctx)()
	cur, ok := s.data.orders[o.ID]
	if !ok {
		return models.ErrNotFound
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.TrackingNumber = o.TrackingNumber
	cur.DeliveredAt = copyTime(o.DeliveredAt)
	cur.UpdatedAt = o.UpdatedAt
	s.data.orders[o.ID] = cur
	return nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	defer s.lock(ctx)()
	if _, ok := s.data.userByEmail[u.Email]; ok {
		return models.ErrDuplicate
	}
	if _, ok := s.data.users[u.ID]; ok {
		return models.ErrDuplicate
	}
	s.data.users[u.ID] = copyUser(*u)
	s.data.userByEmail[u.Email] = u.ID
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	defer s.lock(ctx)()
	u, ok := s.data.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := copyUser(u)
	return &out, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.lock(ctx)()
	id, ok := s.data.userByEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := copyUser(s.data.users[id])
	return &out, nil
}

func (s *Store) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int64, error) {
	defer s.lock(ctx)()

	search := strings.ToLower(f.Search)
	var matched []models.User
	for _, u := range s.data.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Email), search) &&
			!strings.Contains(strings.ToLower(u.FirstName), search) &&
			!strings.Contains(strings.ToLower(u.LastName), search) {
			continue
		}
		matched = append(matched, copyUser(u))
	}
	sort.Slice(matched, func(i, j int) bool {
		return newerFirst(matched[i].CreatedAt, matched[j].CreatedAt, matched[i].ID, matched[j].ID)
	})
	return paginate(matched, f.Page), int64(len(matched)), nil
}

func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	defer s.lock(ctx)()
	cur, ok := s.data.users[u.ID]
	if !ok {
		return models.ErrNotFound
	}
	if owner, taken := s.data.userByEmail[u.Email]; taken && owner != u.ID {
		return models.ErrDuplicate
	}
	delete(s.data.userByEmail, cur.Email)
	next := copyUser(*u)
	next.CreatedAt = cur.CreatedAt
	s.data.users[u.ID] = next
	s.data.userByEmail[u.Email] = u.ID
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	defer s.lock(ctx)()
	u, ok := s.data.users[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(s.data.userByEmail, u.Email)
	delete(s.data.users, id)
	return nil
}

// Reports

func (s *Store) CountUsers(ctx context.Context, since time.Time) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for _, u := range s.data.users {
		if !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountOrders(ctx context.Context, since time.Time) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for _, o := range s.data.orders {
		if !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) OrderStatusDistribution(ctx context.Context) ([]models.StatusCount, error) {
	defer s.lock(ctx)()
	counts := map[models.OrderStatus]int64{}
	for _, o := range s.data.orders {
		counts[o.Status]++
	}
	out := make([]models.StatusCount, 0, len(counts))
	for st, n := range counts {
		out = append(out, models.StatusCount{Status: st, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (s *Store) Revenue(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	defer s.lock(ctx)()
	total := decimal.Zero
	for _, o := range s.data.orders {
		if o.Status == models.OrderStatusCancelled || o.CreatedAt.Before(since) {
			continue
		}
		total = total.Add(o.Total)
	}
	return total, nil
}

func (s *Store) DailyRevenue(ctx context.Context, since time.Time) ([]models.DailyRevenue, error) {
	defer s.lock(ctx)()
	byDay := map[string]decimal.Decimal{}
	for _, o := range s.data.orders {
		if o.Status == models.OrderStatusCancelled || o.CreatedAt.Before(since) {
			continue
		}
		day := o.CreatedAt.UTC().Format(time.DateOnly)
		byDay[day] = byDay[day].Add(o.Total)
	}
	out := make([]models.DailyRevenue, 0, len(byDay))
	for day, rev := range byDay {
		out = append(out, models.DailyRevenue{Day: day, Revenue: rev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// RevenueByCategory groups order lines by the product's current category.
// Lines of deleted products are left out.
func (s *Store) RevenueByCategory(ctx context.Context) ([]models.CategoryRevenue, error) {
	defer s.lock(ctx)()
	byCat := map[string]decimal.Decimal{}
	for _, o := range s.data.orders {
		if o.Status == models.OrderStatusCancelled {
			continue
		}
		for _, it := range o.Items {
			p, ok := s.data.products[it.ProductID]
			if !ok {
				continue
			}
			byCat[p.Category] = byCat[p.Category].Add(it.LineTotal())
		}
	}
	out := make([]models.CategoryRevenue, 0, len(byCat))
	for cat, rev := range byCat {
		out = append(out, models.CategoryRevenue{Category: cat, Revenue: rev})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (s *Store) CountProducts(ctx context.Context) (int64, error) {
	defer s.lock(ctx)()
	return int64(len(s.data.products)), nil
}

func (s *Store) CountLowStock(ctx context.Context, below int) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for _, p := range s.data.products {
		if p.Stock < below {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountActiveCarts(ctx context.Context) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for _, c := range s.data.carts {
		if len(c.Items) > 0 {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUsersByStatus(ctx context.Context, active bool) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for _, u := range s.data.users {
		if u.IsActive == active {
			n++
		}
	}
	return n, nil
}

func (s *Store) UsersByRole(ctx context.Context) ([]models.RoleCount, error) {
	defer s.lock(ctx)()
	counts := map[models.Role]int64{}
	for _, u := range s.data.users {
		counts[u.Role]++
	}
	out := make([]models.RoleCount, 0, len(counts))
	for role, n := range counts {
		out = append(out, models.RoleCount{Role: role, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (s *Store) RegistrationsByMonth(ctx context.Context, since time.Time) ([]models.MonthlyCount, error) {
	defer s.lock(ctx)()
	byMonth := map[string]int64{}
	for _, u := range s.data.users {
		if u.CreatedAt.Before(since) {
			continue
		}
		byMonth[u.CreatedAt.UTC().Format("2006-01")]++
	}
	out := make([]models.MonthlyCount, 0, len(byMonth))
	for month, n := range byMonth {
		out = append(out, models.MonthlyCount{Month: month, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (s *Store) TopSellingProducts(ctx context.Context, limit int) ([]models.ProductSales, error) {
	defer s.lock(ctx)()
	byProduct := map[string]*models.ProductSales{}
	for _, o := range s.data.orders {
		if o.Status == models.OrderStatusCancelled {
			continue
		}
		for _, it := range o.Items {
			p, ok := s.data.products[it.ProductID]
			if !ok {
				continue
			}
			ps, ok := byProduct[p.ID]
			if !ok {
				ps = &models.ProductSales{ProductID: p.ID, Name: p.Name, Image: p.FirstImage()}
				byProduct[p.ID] = ps
			}
			ps.TotalSold += int64(it.Quantity)
			ps.Revenue = ps.Revenue.Add(it.LineTotal())
		}
	}
	out := make([]models.ProductSales, 0, len(byProduct))
	for _, ps := range byProduct {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSold != out[j].TotalSold {
			return out[i].TotalSold > out[j].TotalSold
		}
		return out[i].ProductID < out[j].ProductID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ProductsByCategory(ctx context.Context) ([]models.CategoryCount, error) {
	defer s.lock(ctx)()
	counts := map[string]int64{}
	for _, p := range s.data.products {
		counts[p.Category]++
	}
	out := make([]models.CategoryCount, 0, len(counts))
	for cat, n := range counts {
		out = append(out, models.CategoryCount{Category: cat, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}

func paginate[T any](items []T, p models.Page) []T {
	if p.Limit <= 0 {
		return items
	}
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := min(start+p.Limit, len(items))
	return items[start:end]
}

func copyProduct(p models.Product) models.Product {
	p.Images = append([]models.Image(nil), p.Images...)
	return p
}

func copyCart(c models.Cart) models.Cart {
	c.Items = append([]models.CartItem{}, c.Items...)
	return c
}

func copyOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	o.DeliveredAt = copyTime(o.DeliveredAt)
	return o
}

func copyUser(u models.User) models.User {
	if u.Address != nil {
		a := *u.Address
		u.Address = &a
	}
	return u
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
