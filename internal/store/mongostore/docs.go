package mongostore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/storefront/checkout-api/internal/models"
)

// Money is stored as Decimal128 rounded to cents, matching the DECIMAL(12,2)
// columns of the MySQL schema.
func toDec(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.Round(2).String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDec(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}

type imageDoc struct {
	URL string `bson:"url"`
	Alt string `bson:"alt,omitempty"`
}

type productDoc struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Description string               `bson:"description"`
	Price       primitive.Decimal128 `bson:"price"`
	Discount    int                  `bson:"discount"`
	Stock       int                  `bson:"stock"`
	Category    string               `bson:"category"`
	Images      []imageDoc           `bson:"images"`
	IsFeatured  bool                 `bson:"is_featured"`
	IsActive    bool                 `bson:"is_active"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func newProductDoc(p *models.Product) (productDoc, error) {
	price, err := toDec(p.Price)
	if err != nil {
		return productDoc{}, err
	}
	images := make([]imageDoc, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, imageDoc{URL: img.URL, Alt: img.Alt})
	}
	return productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       price,
		Discount:    p.Discount,
		Stock:       p.Stock,
		Category:    p.Category,
		Images:      images,
		IsFeatured:  p.IsFeatured,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func (d productDoc) model() (*models.Product, error) {
	price, err := fromDec(d.Price)
	if err != nil {
		return nil, err
	}
	images := make([]models.Image, 0, len(d.Images))
	for _, img := range d.Images {
		images = append(images, models.Image{URL: img.URL, Alt: img.Alt})
	}
	return &models.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       price,
		Discount:    d.Discount,
		Stock:       d.Stock,
		Category:    d.Category,
		Images:      images,
		IsFeatured:  d.IsFeatured,
		IsActive:    d.IsActive,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

type cartItemDoc struct {
	ProductID string    `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	AddedAt   time.Time `bson:"added_at"`
}

type cartDoc struct {
	ID          string               `bson:"_id"`
	UserID      string               `bson:"user_id"`
	Items       []cartItemDoc        `bson:"items"`
	TotalItems  int                  `bson:"total_items"`
	TotalPrice  primitive.Decimal128 `bson:"total_price"`
	LastUpdated time.Time            `bson:"last_updated"`
	CreatedAt   time.Time            `bson:"created_at"`
}

func newCartDoc(c *models.Cart) (cartDoc, error) {
	total, err := toDec(c.TotalPrice)
	if err != nil {
		return cartDoc{}, err
	}
	items := make([]cartItemDoc, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemDoc{ProductID: it.ProductID, Quantity: it.Quantity, AddedAt: it.AddedAt})
	}
	return cartDoc{
		ID:          c.ID,
		UserID:      c.UserID,
		Items:       items,
		TotalItems:  c.TotalItems,
		TotalPrice:  total,
		LastUpdated: c.LastUpdated,
		CreatedAt:   c.CreatedAt,
	}, nil
}

func (d cartDoc) model() (*models.Cart, error) {
	total, err := fromDec(d.TotalPrice)
	if err != nil {
		return nil, err
	}
	items := make([]models.CartItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, models.CartItem{ProductID: it.ProductID, Quantity: it.Quantity, AddedAt: it.AddedAt})
	}
	return &models.Cart{
		ID:          d.ID,
		UserID:      d.UserID,
		Items:       items,
		TotalItems:  d.TotalItems,
		TotalPrice:  total,
		LastUpdated: d.LastUpdated,
		CreatedAt:   d.CreatedAt,
	}, nil
}

type addressDoc struct {
	FullName   string `bson:"full_name"`
	Line1      string `bson:"line1"`
	Line2      string `bson:"line2,omitempty"`
	City       string `bson:"city"`
	State      string `bson:"state,omitempty"`
	PostalCode string `bson:"postal_code"`
	Country    string `bson:"country"`
	Phone      string `bson:"phone,omitempty"`
}

func newAddressDoc(a models.Address) addressDoc {
	return addressDoc(a)
}

func (d addressDoc) model() models.Address {
	return models.Address(d)
}

type orderItemDoc struct {
	ProductID string               `bson:"product_id"`
	Quantity  int                  `bson:"quantity"`
	Price     primitive.Decimal128 `bson:"price"`
	Name      string               `bson:"name"`
	Image     string               `bson:"image,omitempty"`
}

type orderDoc struct {
	ID              string               `bson:"_id"`
	UserID          string               `bson:"user_id"`
	OrderNumber     string               `bson:"order_number"`
	Items           []orderItemDoc       `bson:"items"`
	ShippingAddress addressDoc           `bson:"shipping_address"`
	BillingAddress  addressDoc           `bson:"billing_address"`
	PaymentMethod   string               `bson:"payment_method"`
	PaymentIntentID string               `bson:"payment_intent_id,omitempty"`
	PaymentStatus   string               `bson:"payment_status"`
	Subtotal        primitive.Decimal128 `bson:"subtotal"`
	Tax             primitive.Decimal128 `bson:"tax"`
	Shipping        primitive.Decimal128 `bson:"shipping"`
	Total           primitive.Decimal128 `bson:"total"`
	Status          string               `bson:"status"`
	TrackingNumber  string               `bson:"tracking_number,omitempty"`
	DeliveredAt     *time.Time           `bson:"delivered_at,omitempty"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func newOrderDoc(o *models.Order) (orderDoc, error) {
	d := orderDoc{
		ID:              o.ID,
		UserID:          o.UserID,
		OrderNumber:     o.OrderNumber,
		Items:           make([]orderItemDoc, 0, len(o.Items)),
		ShippingAddress: newAddressDoc(o.ShippingAddress),
		BillingAddress:  newAddressDoc(o.BillingAddress),
		PaymentMethod:   string(o.PaymentMethod),
		PaymentIntentID: o.PaymentIntentID,
		PaymentStatus:   string(o.PaymentStatus),
		Status:          string(o.Status),
		TrackingNumber:  o.TrackingNumber,
		DeliveredAt:     o.DeliveredAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, it := range o.Items {
		price, err := toDec(it.Price)
		if err != nil {
			return orderDoc{}, err
		}
		d.Items = append(d.Items, orderItemDoc{ProductID: it.ProductID, Quantity: it.Quantity, Price: price, Name: it.Name, Image: it.Image})
	}

	var err error
	for _, f := range []struct {
		dst *primitive.Decimal128
		src decimal.Decimal
	}{
		{&d.Subtotal, o.Subtotal},
		{&d.Tax, o.Tax},
		{&d.Shipping, o.Shipping},
		{&d.Total, o.Total},
	} {
		if *f.dst, err = toDec(f.src); err != nil {
			return orderDoc{}, err
		}
	}
	return d, nil
}

func (d orderDoc) model() (*models.Order, error) {
	o := &models.Order{
		ID:              d.ID,
		UserID:          d.UserID,
		OrderNumber:     d.OrderNumber,
		Items:           make([]models.OrderItem, 0, len(d.Items)),
		ShippingAddress: d.ShippingAddress.model(),
		BillingAddress:  d.BillingAddress.model(),
		PaymentMethod:   models.PaymentMethod(d.PaymentMethod),
		PaymentIntentID: d.PaymentIntentID,
		PaymentStatus:   models.PaymentStatus(d.PaymentStatus),
		Status:          models.OrderStatus(d.Status),
		TrackingNumber:  d.TrackingNumber,
		DeliveredAt:     d.DeliveredAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, it := range d.Items {
		price, err := fromDec(it.Price)
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, models.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: price, Name: it.Name, Image: it.Image})
	}

	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src primitive.Decimal128
	}{
		{&o.Subtotal, d.Subtotal},
		{&o.Tax, d.Tax},
		{&o.Shipping, d.Shipping},
		{&o.Total, d.Total},
	} {
		if *f.dst, err = fromDec(f.src); err != nil {
			return nil, err
		}
	}
	return o, nil
}

type userDoc struct {
	ID           string      `bson:"_id"`
	Email        string      `bson:"email"`
	PasswordHash string      `bson:"password_hash"`
	FirstName    string      `bson:"first_name"`
	LastName     string      `bson:"last_name"`
	Role         string      `bson:"role"`
	IsActive     bool        `bson:"is_active"`
	Phone        string      `bson:"phone,omitempty"`
	Address      *addressDoc `bson:"address,omitempty"`
	CreatedAt    time.Time   `bson:"created_at"`
}

func newUserDoc(u *models.User) userDoc {
	d := userDoc{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Role:         string(u.Role),
		IsActive:     u.IsActive,
		Phone:        u.Phone,
		CreatedAt:    u.CreatedAt,
	}
	if u.Address != nil {
		a := newAddressDoc(*u.Address)
		d.Address = &a
	}
	return d
}

func (d userDoc) model() *models.User {
	u := &models.User{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Role:         models.Role(d.Role),
		IsActive:     d.IsActive,
		Phone:        d.Phone,
		CreatedAt:    d.CreatedAt,
	}
	if d.Address != nil {
		a := d.Address.model()
		u.Address = &a
	}
	return u
}
