// Package mongostore implements the persistence interfaces on MongoDB.
// Transactions need a replica set deployment.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/services"
)

const system = "mongodb"

// Store is the MongoDB backend
type Store struct {
	client   *mongo.Client
	products *mongo.Collection
	carts    *mongo.Collection
	orders   *mongo.Collection
	users    *mongo.Collection
	metrics  *metrics.AppMetrics
}

var _ services.Store = (*Store)(nil)

func New(client *mongo.Client, database *mongo.Database, m *metrics.AppMetrics) *Store {
	return &Store{
		client:   client,
		products: database.Collection("products"),
		carts:    database.Collection("carts"),
		orders:   database.Collection("orders"),
		users:    database.Collection("users"),
		metrics:  m,
	}
}

// EnsureIndexes creates the unique keys the services rely on
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.carts, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.orders, []mongo.IndexModel{
			{Keys: bson.D{{Key: "order_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{
				Keys: bson.D{{Key: "payment_intent_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "payment_intent_id", Value: bson.D{{Key: "$exists", Value: true}}}}),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		}},
		{s.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.products, []mongo.IndexModel{
			{Keys: bson.D{{Key: "category", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

// WithinTx runs fn in a session transaction. The session context passed to
// fn carries the transaction; nested calls join it. The driver may rerun fn
// on transient errors.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) observe(ctx context.Context, op string, coll *mongo.Collection, start time.Time, err error) {
	s.metrics.RecordDBQuery(ctx, system, op, coll.Name(), op+" "+coll.Name(), start, err == nil || errors.Is(err, mongo.ErrNoDocuments))
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return models.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", models.ErrDuplicate, err)
	default:
		return err
	}
}

func (s *Store) findOne(ctx context.Context, coll *mongo.Collection, filter, out any) error {
	start := time.Now()
	err := coll.FindOne(ctx, filter).Decode(out)
	s.observe(ctx, "find", coll, start, err)
	return mapError(err)
}

func (s *Store) insert(ctx context.Context, coll *mongo.Collection, doc any) error {
	start := time.Now()
	_, err := coll.InsertOne(ctx, doc)
	s.observe(ctx, "insert", coll, start, err)
	return mapError(err)
}

func (s *Store) update(ctx context.Context, coll *mongo.Collection, filter, update any) (*mongo.UpdateResult, error) {
	start := time.Now()
	res, err := coll.UpdateOne(ctx, filter, update)
	s.observe(ctx, "update", coll, start, err)
	return res, mapError(err)
}

func (s *Store) count(ctx context.Context, coll *mongo.Collection, filter any) (int64, error) {
	start := time.Now()
	n, err := coll.CountDocuments(ctx, filter)
	s.observe(ctx, "count", coll, start, err)
	return n, mapError(err)
}

func (s *Store) aggregate(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, out any) error {
	start := time.Now()
	cur, err := coll.Aggregate(ctx, pipeline)
	if err == nil {
		err = cur.All(ctx, out)
	}
	s.observe(ctx, "aggregate", coll, start, err)
	return mapError(err)
}

// Products

func productFilter(f models.ProductFilter) bson.D {
	filter := bson.D{}
	if f.ActiveOnly {
		filter = append(filter, bson.E{Key: "is_active", Value: true})
	}
	if f.Featured {
		filter = append(filter, bson.E{Key: "is_featured", Value: true})
	}
	if f.Category != "" {
		filter = append(filter, bson.E{Key: "category", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(f.Category) + "$", Options: "i"}})
	}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: re}},
			bson.D{{Key: "description", Value: re}},
		}})
	}
	return filter
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var d productDoc
	if err := s.findOne(ctx, s.products, bson.D{{Key: "_id", Value: id}}, &d); err != nil {
		return nil, err
	}
	return d.model()
}

func (s *Store) ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, int64, error) {
	filter := productFilter(f)
	total, err := s.count(ctx, s.products, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset())).
		SetLimit(int64(f.Limit))
	start := time.Now()
	cur, err := s.products.Find(ctx, filter, opts)
	var docs []productDoc
	if err == nil {
		err = cur.All(ctx, &docs)
	}
	s.observe(ctx, "find", s.products, start, err)
	if err != nil {
		return nil, 0, mapError(err)
	}

	products := make([]models.Product, 0, len(docs))
	for _, d := range docs {
		p, err := d.model()
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}
	return products, total, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	d, err := newProductDoc(p)
	if err != nil {
		return err
	}
	return s.insert(ctx, s.products, d)
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	d, err := newProductDoc(p)
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := s.products.ReplaceOne(ctx, bson.D{{Key: "_id", Value: p.ID}}, d)
	s.observe(ctx, "replace", s.products, start, err)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	start := time.Now()
	res, err := s.products.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	s.observe(ctx, "delete", s.products, start, err)
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) DecrementStock(ctx context.Context, id string, qty int) error {
	res, err := s.update(ctx, s.products,
		bson.D{{Key: "_id", Value: id}, {Key: "stock", Value: bson.D{{Key: "$gte", Value: qty}}}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "stock", Value: -qty}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.count(ctx, s.products, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return models.ErrInsufficientStock
}

func (s *Store) IncrementStock(ctx context.Context, id string, qty int) error {
	res, err := s.update(ctx, s.products,
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "stock", Value: qty}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Carts

func (s *Store) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	var d cartDoc
	if err := s.findOne(ctx, s.carts, bson.D{{Key: "user_id", Value: userID}}, &d); err != nil {
		return nil, err
	}
	return d.model()
}

func (s *Store) SaveCart(ctx context.Context, c *models.Cart) error {
	d, err := newCartDoc(c)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = s.carts.ReplaceOne(ctx, bson.D{{Key: "user_id", Value: c.UserID}}, d, options.Replace().SetUpsert(true))
	s.observe(ctx, "replace", s.carts, start, err)
	return mapError(err)
}

// Orders

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	d, err := newOrderDoc(o)
	if err != nil {
		return err
	}
	return s.insert(ctx, s.orders, d)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.getOrder(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *Store) GetOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	return s.getOrder(ctx, bson.D{{Key: "payment_intent_id", Value: intentID}})
}

func (s *Store) getOrder(ctx context.Context, filter bson.D) (*models.Order, error) {
	var d orderDoc
	if err := s.findOne(ctx, s.orders, filter, &d); err != nil {
		return nil, err
	}
	return d.model()
}

func orderFilter(f models.OrderFilter) bson.D {
	filter := bson.D{}
	if f.UserID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: f.UserID})
	}
	if f.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: string(f.Status)})
	}
	return filter
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int64, error) {
	filter := orderFilter(f)
	total, err := s.count(ctx, s.orders, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset())).
		SetLimit(int64(f.Limit))
	start := time.Now()
	cur, err := s.orders.Find(ctx, filter, opts)
	var docs []orderDoc
	if err == nil {
		err = cur.All(ctx, &docs)
	}
	s.observe(ctx, "find", s.orders, start, err)
	if err != nil {
		return nil, 0, mapError(err)
	}

	orders := make([]models.Order, 0, len(docs))
	for _, d := range docs {
		o, err := d.model()
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o *models.Order) error {
	set := bson.D{
		{Key: "status", Value: string(o.Status)},
		{Key: "payment_status", Value: string(o.PaymentStatus)},
		{Key: "tracking_number", Value: o.TrackingNumber},
		{Key: "updated_at", Value: o.UpdatedAt},
	}
	if o.DeliveredAt != nil {
		set = append(set, bson.E{Key: "delivered_at", Value: *o.DeliveredAt})
	}
	res, err := s.update(ctx, s.orders, bson.D{{Key: "_id", Value: o.ID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return s.insert(ctx, s.users, newUserDoc(u))
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var d userDoc
	if err := s.findOne(ctx, s.users, bson.D{{Key: "_id", Value: id}}, &d); err != nil {
		return nil, err
	}
	return d.model(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var d userDoc
	if err := s.findOne(ctx, s.users, bson.D{{Key: "email", Value: email}}, &d); err != nil {
		return nil, err
	}
	return d.model(), nil
}

func userFilter(f models.UserFilter) bson.D {
	filter := bson.D{}
	if f.Role != "" {
		filter = append(filter, bson.E{Key: "role", Value: string(f.Role)})
	}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "email", Value: re}},
			bson.D{{Key: "first_name", Value: re}},
			bson.D{{Key: "last_name", Value: re}},
		}})
	}
	return filter
}

func (s *Store) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int64, error) {
	filter := userFilter(f)
	total, err := s.count(ctx, s.users, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset())).
		SetLimit(int64(f.Limit))
	start := time.Now()
	cur, err := s.users.Find(ctx, filter, opts)
	var docs []userDoc
	if err == nil {
		err = cur.All(ctx, &docs)
	}
	s.observe(ctx, "find", s.users, start, err)
	if err != nil {
		return nil, 0, mapError(err)
	}

	users := make([]models.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, *d.model())
	}
	return users, total, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	d := newUserDoc(u)
	set := bson.D{
		{Key: "email", Value: d.Email},
		{Key: "password_hash", Value: d.PasswordHash},
		{Key: "first_name", Value: d.FirstName},
		{Key: "last_name", Value: d.LastName},
		{Key: "role", Value: d.Role},
		{Key: "is_active", Value: d.IsActive},
		{Key: "phone", Value: d.Phone},
		{Key: "address", Value: d.Address},
	}
	res, err := s.update(ctx, s.users, bson.D{{Key: "_id", Value: u.ID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	start := time.Now()
	res, err := s.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	s.observe(ctx, "delete", s.users, start, err)
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Reports

var notCancelled = bson.E{Key: "status", Value: bson.D{{Key: "$ne", Value: string(models.OrderStatusCancelled)}}}

func createdSince(t time.Time) bson.D {
	if t.IsZero() {
		return bson.D{}
	}
	return bson.D{{Key: "created_at", Value: bson.D{{Key: "$gte", Value: t.UTC()}}}}
}

func (s *Store) CountUsers(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx, s.users, createdSince(since))
}

func (s *Store) CountOrders(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx, s.orders, createdSince(since))
}

func (s *Store) OrderStatusDistribution(ctx context.Context) ([]models.StatusCount, error) {
	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	err := s.aggregate(ctx, s.orders, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$status"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]models.StatusCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.StatusCount{Status: models.OrderStatus(r.Status), Count: r.Count})
	}
	return out, nil
}

type sumRow struct {
	Key   string               `bson:"_id"`
	Total primitive.Decimal128 `bson:"total"`
}

func (s *Store) Revenue(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	match := append(createdSince(since), notCancelled)
	var rows []sumRow
	err := s.aggregate(ctx, s.orders, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: ""}, {Key: "total", Value: bson.D{{Key: "$sum", Value: "$total"}}}}}},
	}, &rows)
	if err != nil || len(rows) == 0 {
		return decimal.Zero, err
	}
	return fromDec(rows[0].Total)
}

func (s *Store) DailyRevenue(ctx context.Context, since time.Time) ([]models.DailyRevenue, error) {
	match := append(createdSince(since), notCancelled)
	var rows []sumRow
	err := s.aggregate(ctx, s.orders, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{{Key: "format", Value: "%Y-%m-%d"}, {Key: "date", Value: "$created_at"}}}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$total"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]models.DailyRevenue, 0, len(rows))
	for _, r := range rows {
		rev, err := fromDec(r.Total)
		if err != nil {
			return nil, err
		}
		out = append(out, models.DailyRevenue{Day: r.Key, Revenue: rev})
	}
	return out, nil
}

// RevenueByCategory joins every order line with the current catalog; lines
// of deleted products drop out at the $unwind
func (s *Store) RevenueByCategory(ctx context.Context) ([]models.CategoryRevenue, error) {
	var rows []sumRow
	err := s.aggregate(ctx, s.orders, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{notCancelled}}},
		{{Key: "$unwind", Value: "$items"}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: s.products.Name()},
			{Key: "localField", Value: "items.product_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "product"},
		}}},
		{{Key: "$unwind", Value: "$product"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$product.category"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$multiply", Value: bson.A{"$items.price", "$items.quantity"}}}}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}}}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]models.CategoryRevenue, 0, len(rows))
	for _, r := range rows {
		rev, err := fromDec(r.Total)
		if err != nil {
			return nil, err
		}
		out = append(out, models.CategoryRevenue{Category: r.Key, Revenue: rev})
	}
	return out, nil
}

func (s *Store) CountProducts(ctx context.Context) (int64, error) {
	return s.count(ctx, s.products, bson.D{})
}

func (s *Store) CountLowStock(ctx context.Context, below int) (int64, error) {
	return s.count(ctx, s.products, bson.D{{Key: "stock", Value: bson.D{{Key: "$lt", Value: below}}}})
}

func (s *Store) CountActiveCarts(ctx context.Context) (int64, error) {
	return s.count(ctx, s.carts, bson.D{{Key: "items.0", Value: bson.D{{Key: "$exists", Value: true}}}})
}

type countRow struct {
	Key   string `bson:"_id"`
	Count int64  `bson:"count"`
}

var countOne = bson.D{{Key: "$sum", Value: 1}}

func (s *Store) CountUsersByStatus(ctx context.Context, active bool) (int64, error) {
	return s.count(ctx, s.users, bson.D{{Key: "is_active", Value: active}})
}

func (s *Store) UsersByRole(ctx context.Context) ([]models.RoleCount, error) {
	var rows []countRow
	err := s.aggregate(ctx, s.users, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$role"}, {Key: "count", Value: countOne}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]models.RoleCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.RoleCount{Role: models.Role(r.Key), Count: r.Count})
	}
	return out, nil
}

func (s *Store) RegistrationsByMonth(ctx context.Context, since time.Time) ([]models.MonthlyCount, error) {
	var rows []countRow
	err := s.aggregate(ctx, s.users, mongo.Pipeline{
		{{Key: "$match", Value: createdSince(since)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{{Key: "format", Value: "%Y-%m"}, {Key: "date", Value: "$created_at"}}}}},
			{Key: "count", Value: countOne},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]models.MonthlyCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.MonthlyCount{Month: r.Key, Count: r.Count})
	}
	return out, nil
}

// topSellersPipeline groups non-cancelled order lines per product and keeps
// the ones whose product still exists
func (s *Store) topSellersPipeline(limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{notCancelled}}},
		{{Key: "$unwind", Value: "$items"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$items.product_id"},
			{Key: "sold", Value: bson.D{{Key: "$sum", Value: "$items.quantity"}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$multiply", Value: bson.A{"$items.price", "$items.quantity"}}}}}},
		}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: s.products.Name()},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "product"},
		}}},
		{{Key: "$unwind", Value: "$product"}},
		{{Key: "$sort", Value: bson.D{{Key: "sold", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.D{
			{Key: "sold", Value: 1},
			{Key: "total", Value: 1},
			{Key: "name", Value: "$product.name"},
			{Key: "image", Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$product.images.url", 0}}}},
		}}},
	}
}

type salesRow struct {
	ProductID string               `bson:"_id"`
	Name      string               `bson:"name"`
	Image     string               `bson:"image"`
	Sold      int64                `bson:"sold"`
	Total     primitive.Decimal128 `bson:"total"`
}

func (r salesRow) model() (models.ProductSales, error) {
	rev, err := fromDec(r.Total)
	if err != nil {
		return models.ProductSales{}, err
	}
	return models.ProductSales{ProductID: r.ProductID, Name: r.Name, Image: r.Image, TotalSold: r.Sold, Revenue: rev}, nil
}

func (s *Store) TopSellingProducts(ctx context.Context, limit int) ([]models.ProductSales, error) {
	var rows []salesRow
	if err := s.aggregate(ctx, s.orders, s.topSellersPipeline(limit), &rows); err != nil {
		return nil, err
	}
	out := make([]models.ProductSales, 0, len(rows))
	for _, r := range rows {
		ps, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

func (s *Store) ProductsByCategory(ctx context.Context) ([]models.CategoryCount, error) {
	var rows []countRow
	err := s.aggregate(ctx, s.products, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$category"}, {Key: "count", Value: countOne}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]models.CategoryCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.CategoryCount{Category: r.Key, Count: r.Count})
	}
	return out, nil
}
