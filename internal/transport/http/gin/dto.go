package httpgin

import (
	"github.com/expozone/stallbook/internal/domain"
)

type SubmitApplicationRequest struct {
	StallID  int64            `json:"stall_id" binding:"required"`
	Products []string         `json:"products" binding:"required,min=1,dive,required"`
	Fees     FeeBreakdownBody `json:"fees" binding:"required"`
}

type FeeBreakdownBody struct {
	StallPrice  int64 `json:"stall_price" binding:"required,gt=0"`
	PlatformFee int64 `json:"platform_fee" binding:"gte=0"`
	EntryFee    int64 `json:"entry_fee" binding:"gte=0"`
	GST         int64 `json:"gst" binding:"gte=0"`
	TotalAmount int64 `json:"total_amount" binding:"required,gt=0"`
}

func (b FeeBreakdownBody) toDomain() domain.FeeBreakdown {
	return domain.FeeBreakdown{
		StallPrice:  b.StallPrice,
		PlatformFee: b.PlatformFee,
		EntryFee:    b.EntryFee,
		GST:         b.GST,
		TotalAmount: b.TotalAmount,
	}
}

type DecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approved rejected"`
	Reason   string `json:"reason"`
}

type DecisionResponse struct {
	Application domain.Application `json:"application"`
	StallStatus domain.StallStatus `json:"stall_status"`
}

type CreateOrderRequest struct {
	ApplicationID string `json:"application_id" binding:"required,uuid"`
}

type CreateOrderResponse struct {
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	EventTitle  string `json:"event_title"`
	VendorName  string `json:"vendor_name,omitempty"`
	VendorEmail string `json:"vendor_email,omitempty"`
}

type VerifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id" binding:"required"`
	PaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature string `json:"razorpay_signature" binding:"required"`
}

type VerifyPaymentResponse struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	ApplicationID string `json:"application_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
