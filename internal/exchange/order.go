package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"spreadbot-go/internal/execution"
)

const pathOrderCreate = "/v5/order/create"

// Orders places market orders on the venue.
type Orders struct {
	req Requester
}

// NewOrders wraps a requester, usually a *Client.
func NewOrders(req Requester) *Orders {
	return &Orders{req: req}
}

type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceOrder submits a single market order leg.
func (o *Orders) PlaceOrder(ctx context.Context, order execution.Order) (execution.Ack, error) {
	params := map[string]string{
		"category":  order.Segment.Category(),
		"symbol":    order.Symbol,
		"side":      string(order.Side),
		"orderType": "Market",
		"qty":       order.Qty.String(),
	}
	if order.LinkID != "" {
		params["orderLinkId"] = order.LinkID
	}
	resp, err := o.req.Do(ctx, http.MethodPost, pathOrderCreate, params)
	if err != nil {
		return execution.Ack{}, err
	}
	var result orderResult
	// The venue already accepted the order, so a bad result leaves it open but unconfirmed.
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return execution.Ack{LinkID: order.LinkID}, fmt.Errorf("decode order result: %w: %w", execution.ErrUnconfirmedAck, err)
	}
	if result.OrderLinkID == "" {
		result.OrderLinkID = order.LinkID
	}
	return execution.Ack{OrderID: result.OrderID, LinkID: result.OrderLinkID}, nil
}
