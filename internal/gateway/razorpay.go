package gateway

import (
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

// Order mirrors the fields of a provider order the booking flow cares about.
// Amount is in the currency's minor unit, as the provider reports it.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

// Payment mirrors the authoritative payment object fetched from the
// provider. Status "captured" is the only state treated as money received.
type Payment struct {
	ID       string
	OrderID  string
	Amount   int64
	Currency string
	Status   string
}

// Client wraps the Razorpay SDK. All calls are plain HTTP round trips to the
// provider; nothing here touches the database, so callers can keep their
// transactions closed around these calls.
type Client struct {
	rz *razorpay.Client
}

func New(keyID, keySecret string) *Client {
	return &Client{rz: razorpay.NewClient(keyID, keySecret)}
}

// CreateOrder opens a provider order for the given amount. notes travel with
// the order as opaque correlation metadata and come back on fetch.
func (c *Client) CreateOrder(amount int64, currency, receipt string, notes map[string]any) (Order, error) {
	const op = "gateway.Client.CreateOrder"

	body, err := c.rz.Order.Create(map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	}, nil)
	if err != nil {
		return Order{}, fmt.Errorf("%s: %w", op, err)
	}

	return orderFromBody(body), nil
}

func (c *Client) FetchOrder(id string) (Order, error) {
	const op = "gateway.Client.FetchOrder"

	body, err := c.rz.Order.Fetch(id, nil, nil)
	if err != nil {
		return Order{}, fmt.Errorf("%s: %w", op, err)
	}

	return orderFromBody(body), nil
}

func (c *Client) FetchPayment(id string) (Payment, error) {
	const op = "gateway.Client.FetchPayment"

	body, err := c.rz.Payment.Fetch(id, nil, nil)
	if err != nil {
		return Payment{}, fmt.Errorf("%s: %w", op, err)
	}

	return Payment{
		ID:       asString(body["id"]),
		OrderID:  asString(body["order_id"]),
		Amount:   asInt64(body["amount"]),
		Currency: asString(body["currency"]),
		Status:   asString(body["status"]),
	}, nil
}

func orderFromBody(body map[string]any) Order {
	return Order{
		ID:       asString(body["id"]),
		Amount:   asInt64(body["amount"]),
		Currency: asString(body["currency"]),
		Status:   asString(body["status"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt64 tolerates the number types json decoding produces.
func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
