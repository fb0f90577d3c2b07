package transport

import (
	"time"

	"shopmall/pkg/domain/model"
)

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	ShippingAddress string             `json:"shipping_address"`
	ReceiverName    string             `json:"receiver_name"`
	ReceiverPhone   string             `json:"receiver_phone"`
	Items           []orderLineRequest `json:"items"`
}

type changeStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type paymentRequest struct {
	OrderID        string `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Method         string `json:"method"`
}

type orderItemResponse struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Price       int64  `json:"price"`
	ImageURL    string `json:"image_url,omitempty"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
	Status      string `json:"status"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	MemberID        string              `json:"member_id"`
	Status          string              `json:"status"`
	TotalAmount     int64               `json:"total_amount"`
	ShippingAddress string              `json:"shipping_address"`
	ReceiverName    string              `json:"receiver_name"`
	ReceiverPhone   string              `json:"receiver_phone"`
	Items           []orderItemResponse `json:"items"`
	Version         int                 `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type historyResponse struct {
	PreviousStatus *string   `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Reason         string    `json:"reason"`
	ChangedBy      string    `json:"changed_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type paymentResponse struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Amount         int64     `json:"amount"`
	Method         string    `json:"method"`
	Status         string    `json:"status"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ID:          item.ID.String(),
			ProductID:   item.ProductID.String(),
			ProductName: item.Snapshot.Name,
			Price:       item.Snapshot.Price,
			ImageURL:    item.Snapshot.ImageURL,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal(),
			Status:      string(item.Status),
		})
	}
	return orderResponse{
		ID:              o.ID.String(),
		OrderNumber:     o.Number,
		MemberID:        o.MemberID.String(),
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.Shipping.Address,
		ReceiverName:    o.Shipping.ReceiverName,
		ReceiverPhone:   o.Shipping.ReceiverPhone,
		Items:           items,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toHistoryResponses(histories []model.OrderHistory) []historyResponse {
	resp := make([]historyResponse, 0, len(histories))
	for _, h := range histories {
		var previous *string
		if h.PreviousStatus != nil {
			s := string(*h.PreviousStatus)
			previous = &s
		}
		resp = append(resp, historyResponse{
			PreviousStatus: previous,
			NewStatus:      string(h.NewStatus),
			Reason:         h.Reason,
			ChangedBy:      h.ChangedBy,
			CreatedAt:      h.CreatedAt,
		})
	}
	return resp
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID.String(),
		OrderID:        p.OrderID.String(),
		IdempotencyKey: p.IdempotencyKey,
		Amount:         p.Amount,
		Method:         p.Method,
		Status:         string(p.Status),
		FailureReason:  p.FailureReason,
		CreatedAt:      p.CreatedAt,
	}
}
