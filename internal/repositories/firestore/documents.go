package firestore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tidewatch/storefront/internal/domain"
)

// Money is stored as a decimal string so no precision is lost; configurations are stored as their
// canonical JSON so the tagged variant round-trips without a Firestore schema per product type.

type productDocument struct {
	ID                  string   `firestore:"id"`
	Name                string   `firestore:"name"`
	ShortDescription    string   `firestore:"shortDescription"`
	LongDescription     string   `firestore:"longDescription"`
	Type                string   `firestore:"type"`
	Price               string   `firestore:"price"`
	CreditCost          int      `firestore:"creditCost"`
	ImageURL            string   `firestore:"imageUrl,omitempty"`
	Tags                []string `firestore:"tags,omitempty"`
	AlertTypesAvailable []string `firestore:"alertTypesAvailable,omitempty"`
}

func encodeProduct(p domain.Product) productDocument {
	alertTypes := make([]string, 0, len(p.AlertTypesAvailable))
	for _, t := range p.AlertTypesAvailable {
		alertTypes = append(alertTypes, string(t))
	}
	return productDocument{
		ID:                  p.ID,
		Name:                p.Name,
		ShortDescription:    p.ShortDescription,
		LongDescription:     p.LongDescription,
		Type:                string(p.Type),
		Price:               p.Price.String(),
		CreditCost:          p.CreditCost,
		ImageURL:            p.ImageURL,
		Tags:                append([]string(nil), p.Tags...),
		AlertTypesAvailable: alertTypes,
	}
}

func (d productDocument) decode() (domain.Product, error) {
	price, err := parseMoney(d.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", d.ID, err)
	}
	alertTypes := make([]domain.MaritimeAlertType, 0, len(d.AlertTypesAvailable))
	for _, t := range d.AlertTypesAvailable {
		alertTypes = append(alertTypes, domain.MaritimeAlertType(t))
	}
	return domain.Product{
		ID:                  d.ID,
		Name:                d.Name,
		ShortDescription:    d.ShortDescription,
		LongDescription:     d.LongDescription,
		Type:                domain.ProductType(d.Type),
		Price:               price,
		CreditCost:          d.CreditCost,
		ImageURL:            d.ImageURL,
		Tags:                d.Tags,
		AlertTypesAvailable: alertTypes,
	}, nil
}

type cartItemDocument struct {
	ItemID               string          `firestore:"itemId"`
	Product              productDocument `firestore:"product"`
	Quantity             int             `firestore:"quantity"`
	ConfiguredPrice      *string         `firestore:"configuredPrice,omitempty"`
	ConfiguredCreditCost *int            `firestore:"configuredCreditCost,omitempty"`
	Configuration        string          `firestore:"configuration,omitempty"`
	AddedAt              time.Time       `firestore:"addedAt"`
}

type cartDocument struct {
	UserID       string             `firestore:"userId"`
	Items        []cartItemDocument `firestore:"items"`
	TotalAmount  string             `firestore:"totalAmount"`
	TotalCredits int                `firestore:"totalCredits"`
	Currency     string             `firestore:"currency"`
	UpdatedAt    time.Time          `firestore:"updatedAt"`
}

func encodeCart(cart domain.Cart) (cartDocument, error) {
	doc := cartDocument{
		UserID:       cart.UserID,
		Items:        make([]cartItemDocument, 0, len(cart.Items)),
		TotalAmount:  cart.TotalAmount.String(),
		TotalCredits: cart.TotalCredits,
		Currency:     cart.Currency,
		UpdatedAt:    cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		config, err := encodeConfiguration(item.Configuration)
		if err != nil {
			return cartDocument{}, err
		}
		itemDoc := cartItemDocument{
			ItemID:               item.ItemID,
			Product:              encodeProduct(item.Product),
			Quantity:             item.Quantity,
			ConfiguredCreditCost: item.ConfiguredCreditCost,
			Configuration:        config,
			AddedAt:              item.AddedAt.UTC(),
		}
		if item.ConfiguredPrice != nil {
			price := item.ConfiguredPrice.String()
			itemDoc.ConfiguredPrice = &price
		}
		doc.Items = append(doc.Items, itemDoc)
	}
	return doc, nil
}

func (d cartDocument) decode() (domain.Cart, error) {
	cart := domain.Cart{
		UserID:       d.UserID,
		TotalCredits: d.TotalCredits,
		Currency:     d.Currency,
		UpdatedAt:    d.UpdatedAt,
	}
	for _, itemDoc := range d.Items {
		product, err := itemDoc.Product.decode()
		if err != nil {
			return domain.Cart{}, err
		}
		config, err := decodeConfiguration(itemDoc.Configuration)
		if err != nil {
			return domain.Cart{}, err
		}
		item := domain.CartItem{
			ItemID:               itemDoc.ItemID,
			Product:              product,
			Quantity:             itemDoc.Quantity,
			ConfiguredCreditCost: itemDoc.ConfiguredCreditCost,
			Configuration:        config,
			AddedAt:              itemDoc.AddedAt,
		}
		if itemDoc.ConfiguredPrice != nil {
			price, err := parseMoney(*itemDoc.ConfiguredPrice)
			if err != nil {
				return domain.Cart{}, err
			}
			item.ConfiguredPrice = &price
		}
		cart.Items = append(cart.Items, item)
	}
	cart.RecomputeTotals()
	return cart, nil
}

type orderItemDocument struct {
	ProductID      string `firestore:"productId"`
	Name           string `firestore:"name"`
	Type           string `firestore:"type"`
	Quantity       int    `firestore:"quantity"`
	UnitPrice      string `firestore:"unitPrice"`
	UnitCreditCost int    `firestore:"unitCreditCost"`
	LineTotal      string `firestore:"lineTotal"`
	LineCredits    int    `firestore:"lineCredits"`
	Configuration  string `firestore:"configuration,omitempty"`
}

type orderDocument struct {
	ID               string              `firestore:"id"`
	UserID           string              `firestore:"userId"`
	Items            []orderItemDocument `firestore:"items"`
	TotalAmount      string              `firestore:"totalAmount"`
	TotalCredits     int                 `firestore:"totalCredits"`
	Currency         string              `firestore:"currency"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	PaymentDetails   map[string]string   `firestore:"paymentDetails,omitempty"`
	PaymentReference string              `firestore:"paymentReference,omitempty"`
	Status           string              `firestore:"status"`
	PurchaseDate     time.Time           `firestore:"purchaseDate"`
}

func encodeOrder(order domain.Order) (orderDocument, error) {
	doc := orderDocument{
		ID:               order.ID,
		UserID:           order.UserID,
		Items:            make([]orderItemDocument, 0, len(order.Items)),
		TotalAmount:      order.TotalAmount.String(),
		TotalCredits:     order.TotalCredits,
		Currency:         order.Currency,
		PaymentMethod:    string(order.PaymentMethod),
		PaymentDetails:   order.PaymentDetails,
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		PurchaseDate:     order.PurchaseDate.UTC(),
	}
	for _, item := range order.Items {
		config, err := encodeConfiguration(item.Configuration)
		if err != nil {
			return orderDocument{}, err
		}
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Type:           string(item.Type),
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice.String(),
			UnitCreditCost: item.UnitCreditCost,
			LineTotal:      item.LineTotal.String(),
			LineCredits:    item.LineCredits,
			Configuration:  config,
		})
	}
	return doc, nil
}

func (d orderDocument) decode() (domain.Order, error) {
	total, err := parseMoney(d.TotalAmount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", d.ID, err)
	}
	order := domain.Order{
		ID:               d.ID,
		UserID:           d.UserID,
		TotalAmount:      total,
		TotalCredits:     d.TotalCredits,
		Currency:         d.Currency,
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		PaymentDetails:   d.PaymentDetails,
		PaymentReference: d.PaymentReference,
		Status:           domain.OrderStatus(d.Status),
		PurchaseDate:     d.PurchaseDate,
	}
	for _, itemDoc := range d.Items {
		unit, err := parseMoney(itemDoc.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s: %w", d.ID, err)
		}
		line, err := parseMoney(itemDoc.LineTotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s: %w", d.ID, err)
		}
		config, err := decodeConfiguration(itemDoc.Configuration)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:      itemDoc.ProductID,
			Name:           itemDoc.Name,
			Type:           domain.ProductType(itemDoc.Type),
			Quantity:       itemDoc.Quantity,
			UnitPrice:      unit,
			UnitCreditCost: itemDoc.UnitCreditCost,
			LineTotal:      line,
			LineCredits:    itemDoc.LineCredits,
			Configuration:  config,
		})
	}
	return order, nil
}

type userProductDocument struct {
	ID             string     `firestore:"id"`
	OrderID        string     `firestore:"orderId"`
	ProductID      string     `firestore:"productId"`
	Name           string     `firestore:"name"`
	Type           string     `firestore:"type"`
	UserID         string     `firestore:"userId"`
	PurchaseDate   time.Time  `firestore:"purchaseDate"`
	ActivationDate *time.Time `firestore:"activationDate,omitempty"`
	ExpiryDate     *time.Time `firestore:"expiryDate,omitempty"`
	Status         string     `firestore:"status"`
	Configuration  string     `firestore:"configuration,omitempty"`
}

func encodeUserProduct(p domain.UserProduct) (userProductDocument, error) {
	config, err := encodeConfiguration(p.Configuration)
	if err != nil {
		return userProductDocument{}, err
	}
	return userProductDocument{
		ID:             p.ID,
		OrderID:        p.OrderID,
		ProductID:      p.ProductID,
		Name:           p.Name,
		Type:           string(p.Type),
		UserID:         p.UserID,
		PurchaseDate:   p.PurchaseDate.UTC(),
		ActivationDate: utcPtr(p.ActivationDate),
		ExpiryDate:     utcPtr(p.ExpiryDate),
		Status:         string(p.Status),
		Configuration:  config,
	}, nil
}

func (d userProductDocument) decode() (domain.UserProduct, error) {
	config, err := decodeConfiguration(d.Configuration)
	if err != nil {
		return domain.UserProduct{}, fmt.Errorf("user product %s: %w", d.ID, err)
	}
	return domain.UserProduct{
		ID:             d.ID,
		OrderID:        d.OrderID,
		ProductID:      d.ProductID,
		Name:           d.Name,
		Type:           domain.ProductType(d.Type),
		UserID:         d.UserID,
		PurchaseDate:   d.PurchaseDate,
		ActivationDate: d.ActivationDate,
		ExpiryDate:     d.ExpiryDate,
		Status:         domain.UserProductStatus(d.Status),
		Configuration:  config,
	}, nil
}

type creditAccountDocument struct {
	UserID    string    `firestore:"userId"`
	Balance   int       `firestore:"balance"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type creditTransactionDocument struct {
	ID          string    `firestore:"id"`
	UserID      string    `firestore:"userId"`
	Amount      int       `firestore:"amount"`
	Description string    `firestore:"description"`
	Timestamp   time.Time `firestore:"timestamp"`
	OrderID     string    `firestore:"orderId,omitempty"`
	ProductID   string    `firestore:"productId,omitempty"`
}

func (d creditTransactionDocument) decode() domain.CreditTransaction {
	return domain.CreditTransaction{
		ID:          d.ID,
		UserID:      d.UserID,
		Amount:      d.Amount,
		Description: d.Description,
		Timestamp:   d.Timestamp,
		OrderID:     d.OrderID,
		ProductID:   d.ProductID,
	}
}

type rfiDocument struct {
	ID                string     `firestore:"id"`
	UserID            string     `firestore:"userId"`
	Title             string     `firestore:"title"`
	Description       string     `firestore:"description"`
	TargetArea        string     `firestore:"targetArea,omitempty"`
	DateRangeStart    *time.Time `firestore:"dateRangeStart,omitempty"`
	DateRangeEnd      *time.Time `firestore:"dateRangeEnd,omitempty"`
	AdditionalDetails string     `firestore:"additionalDetails,omitempty"`
	Status            string     `firestore:"status"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func encodeRFI(rfi domain.RFI) rfiDocument {
	doc := rfiDocument{
		ID:                rfi.ID,
		UserID:            rfi.UserID,
		Title:             rfi.Title,
		Description:       rfi.Description,
		TargetArea:        rfi.TargetArea,
		AdditionalDetails: rfi.AdditionalDetails,
		Status:            string(rfi.Status),
		CreatedAt:         rfi.CreatedAt.UTC(),
		UpdatedAt:         rfi.UpdatedAt.UTC(),
	}
	if rfi.DateRange != nil {
		start, end := rfi.DateRange.Start.UTC(), rfi.DateRange.End.UTC()
		doc.DateRangeStart, doc.DateRangeEnd = &start, &end
	}
	return doc
}

func (d rfiDocument) decode() domain.RFI {
	rfi := domain.RFI{
		ID:                d.ID,
		UserID:            d.UserID,
		Title:             d.Title,
		Description:       d.Description,
		TargetArea:        d.TargetArea,
		AdditionalDetails: d.AdditionalDetails,
		Status:            domain.RFIStatus(d.Status),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.DateRangeStart != nil && d.DateRangeEnd != nil {
		rfi.DateRange = &domain.DateRange{Start: *d.DateRangeStart, End: *d.DateRangeEnd}
	}
	return rfi
}

type alertDocument struct {
	ID            string     `firestore:"id"`
	UserID        string     `firestore:"userId"`
	Title         string     `firestore:"title"`
	Message       string     `firestore:"message"`
	Severity      string     `firestore:"severity"`
	Source        string     `firestore:"source,omitempty"`
	SourceKey     string     `firestore:"sourceKey,omitempty"`
	UserProductID string     `firestore:"userProductId,omitempty"`
	Read          bool       `firestore:"read"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	ReadAt        *time.Time `firestore:"readAt,omitempty"`
}

func encodeAlert(alert domain.Alert) alertDocument {
	return alertDocument{
		ID:            alert.ID,
		UserID:        alert.UserID,
		Title:         alert.Title,
		Message:       alert.Message,
		Severity:      string(alert.Severity),
		Source:        alert.Source,
		SourceKey:     alert.SourceKey,
		UserProductID: alert.UserProductID,
		Read:          alert.Read,
		CreatedAt:     alert.CreatedAt.UTC(),
		ReadAt:        utcPtr(alert.ReadAt),
	}
}

func (d alertDocument) decode() domain.Alert {
	return domain.Alert{
		ID:            d.ID,
		UserID:        d.UserID,
		Title:         d.Title,
		Message:       d.Message,
		Severity:      domain.AlertSeverity(d.Severity),
		Source:        d.Source,
		SourceKey:     d.SourceKey,
		UserProductID: d.UserProductID,
		Read:          d.Read,
		CreatedAt:     d.CreatedAt,
		ReadAt:        d.ReadAt,
	}
}

func encodeConfiguration(config *domain.ProductConfiguration) (string, error) {
	if config == nil {
		return "", nil
	}
	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encode configuration: %w", err)
	}
	return string(data), nil
}

func decodeConfiguration(raw string) (*domain.ProductConfiguration, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var config domain.ProductConfiguration
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &config, nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return value, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
