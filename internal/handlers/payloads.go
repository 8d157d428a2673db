package handlers

import (
	"github.com/tidewatch/storefront/internal/services"
)

type productPayload struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	ShortDescription    string   `json:"shortDescription,omitempty"`
	LongDescription     string   `json:"longDescription,omitempty"`
	Type                string   `json:"type"`
	Price               string   `json:"price"`
	CreditCost          int      `json:"creditCost"`
	ImageURL            string   `json:"imageUrl,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	AlertTypesAvailable []string `json:"alertTypesAvailable,omitempty"`
}

func buildProductPayload(p services.Product) productPayload {
	payload := productPayload{
		ID:               p.ID,
		Name:             p.Name,
		ShortDescription: p.ShortDescription,
		LongDescription:  p.LongDescription,
		Type:             string(p.Type),
		Price:            p.Price.StringFixed(2),
		CreditCost:       p.CreditCost,
		ImageURL:         p.ImageURL,
		Tags:             p.Tags,
	}
	for _, t := range p.AlertTypesAvailable {
		payload.AlertTypesAvailable = append(payload.AlertTypesAvailable, string(t))
	}
	return payload
}

type cartItemPayload struct {
	ItemID               string                         `json:"itemId"`
	Product              productPayload                 `json:"product"`
	Quantity             int                            `json:"quantity"`
	UnitPrice            string                         `json:"unitPrice"`
	UnitCreditCost       int                            `json:"unitCreditCost"`
	ConfiguredPrice      *string                        `json:"configuredPrice,omitempty"`
	ConfiguredCreditCost *int                           `json:"configuredCreditCost,omitempty"`
	ConfigurationDetails *services.ProductConfiguration `json:"configurationDetails,omitempty"`
	AddedAt              string                         `json:"addedAt"`
}

type totalPayload struct {
	Price   string `json:"price"`
	Credits int    `json:"credits"`
}

type cartPayload struct {
	UserID     string            `json:"userId"`
	Items      []cartItemPayload `json:"items"`
	ItemsCount int               `json:"itemsCount"`
	Total      totalPayload      `json:"total"`
	Currency   string            `json:"currency"`
	UpdatedAt  string            `json:"updatedAt,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		UserID:     cart.UserID,
		Items:      make([]cartItemPayload, 0, len(cart.Items)),
		ItemsCount: len(cart.Items),
		Total:      totalPayload{Price: cart.TotalAmount.StringFixed(2), Credits: cart.TotalCredits},
		Currency:   cart.Currency,
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		itemPayload := cartItemPayload{
			ItemID:               item.ItemID,
			Product:              buildProductPayload(item.Product),
			Quantity:             item.Quantity,
			UnitPrice:            item.UnitPrice().StringFixed(2),
			UnitCreditCost:       item.UnitCredits(),
			ConfiguredCreditCost: item.ConfiguredCreditCost,
			ConfigurationDetails: item.Configuration,
			AddedAt:              formatTime(item.AddedAt),
		}
		if item.ConfiguredPrice != nil {
			price := item.ConfiguredPrice.StringFixed(2)
			itemPayload.ConfiguredPrice = &price
		}
		payload.Items = append(payload.Items, itemPayload)
	}
	return payload
}

type orderItemPayload struct {
	ProductID            string                         `json:"productId"`
	Name                 string                         `json:"name"`
	Type                 string                         `json:"type"`
	Quantity             int                            `json:"quantity"`
	UnitPrice            string                         `json:"unitPrice"`
	UnitCreditCost       int                            `json:"unitCreditCost"`
	LineTotal            string                         `json:"lineTotal"`
	LineCredits          int                            `json:"lineCredits"`
	ConfigurationDetails *services.ProductConfiguration `json:"configurationDetails,omitempty"`
}

type orderPayload struct {
	ID               string             `json:"id"`
	UserID           string             `json:"userId"`
	Items            []orderItemPayload `json:"items"`
	TotalAmount      string             `json:"totalAmount"`
	TotalCredits     int                `json:"totalCredits"`
	Currency         string             `json:"currency"`
	PaymentMethod    string             `json:"paymentMethod"`
	PaymentReference string             `json:"paymentReference,omitempty"`
	Status           string             `json:"status"`
	PurchaseDate     string             `json:"purchaseDate"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		UserID:           order.UserID,
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		TotalAmount:      order.TotalAmount.StringFixed(2),
		TotalCredits:     order.TotalCredits,
		Currency:         order.Currency,
		PaymentMethod:    string(order.PaymentMethod),
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		PurchaseDate:     formatTime(order.PurchaseDate),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:            item.ProductID,
			Name:                 item.Name,
			Type:                 string(item.Type),
			Quantity:             item.Quantity,
			UnitPrice:            item.UnitPrice.StringFixed(2),
			UnitCreditCost:       item.UnitCreditCost,
			LineTotal:            item.LineTotal.StringFixed(2),
			LineCredits:          item.LineCredits,
			ConfigurationDetails: item.Configuration,
		})
	}
	return payload
}

type userProductPayload struct {
	ID             string                         `json:"id"`
	OrderID        string                         `json:"orderId"`
	ProductID      string                         `json:"productId"`
	Name           string                         `json:"name"`
	Type           string                         `json:"type"`
	Status         string                         `json:"status"`
	PurchaseDate   string                         `json:"purchaseDate"`
	ActivationDate *string                        `json:"activationDate,omitempty"`
	ExpiryDate     *string                        `json:"expiryDate,omitempty"`
	Configuration  *services.ProductConfiguration `json:"configuration,omitempty"`
}

func buildUserProductPayload(p services.UserProduct) userProductPayload {
	return userProductPayload{
		ID:             p.ID,
		OrderID:        p.OrderID,
		ProductID:      p.ProductID,
		Name:           p.Name,
		Type:           string(p.Type),
		Status:         string(p.Status),
		PurchaseDate:   formatTime(p.PurchaseDate),
		ActivationDate: formatTimePtr(p.ActivationDate),
		ExpiryDate:     formatTimePtr(p.ExpiryDate),
		Configuration:  p.Configuration,
	}
}

type creditTransactionPayload struct {
	ID          string `json:"id"`
	Amount      int    `json:"amount"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	OrderID     string `json:"orderId,omitempty"`
	ProductID   string `json:"productId,omitempty"`
}

func buildCreditTransactionPayload(txn services.CreditTransaction) creditTransactionPayload {
	return creditTransactionPayload{
		ID:          txn.ID,
		Amount:      txn.Amount,
		Description: txn.Description,
		Timestamp:   formatTime(txn.Timestamp),
		OrderID:     txn.OrderID,
		ProductID:   txn.ProductID,
	}
}

type dateRangePayload struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type rfiPayload struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	TargetArea        string            `json:"targetArea,omitempty"`
	DateRange         *dateRangePayload `json:"dateRange,omitempty"`
	AdditionalDetails string            `json:"additionalDetails,omitempty"`
	Status            string            `json:"status"`
	CreatedAt         string            `json:"createdAt"`
	UpdatedAt         string            `json:"updatedAt"`
}

func buildRFIPayload(rfi services.RFI) rfiPayload {
	payload := rfiPayload{
		ID:                rfi.ID,
		Title:             rfi.Title,
		Description:       rfi.Description,
		TargetArea:        rfi.TargetArea,
		AdditionalDetails: rfi.AdditionalDetails,
		Status:            string(rfi.Status),
		CreatedAt:         formatTime(rfi.CreatedAt),
		UpdatedAt:         formatTime(rfi.UpdatedAt),
	}
	if rfi.DateRange != nil {
		payload.DateRange = &dateRangePayload{Start: formatTime(rfi.DateRange.Start), End: formatTime(rfi.DateRange.End)}
	}
	return payload
}

type alertPayload struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Message       string  `json:"message"`
	Severity      string  `json:"severity"`
	Source        string  `json:"source,omitempty"`
	UserProductID string  `json:"userProductId,omitempty"`
	Read          bool    `json:"read"`
	CreatedAt     string  `json:"createdAt"`
	ReadAt        *string `json:"readAt,omitempty"`
}

func buildAlertPayload(alert services.Alert) alertPayload {
	return alertPayload{
		ID:            alert.ID,
		Title:         alert.Title,
		Message:       alert.Message,
		Severity:      string(alert.Severity),
		Source:        alert.Source,
		UserProductID: alert.UserProductID,
		Read:          alert.Read,
		CreatedAt:     formatTime(alert.CreatedAt),
		ReadAt:        formatTimePtr(alert.ReadAt),
	}
}
