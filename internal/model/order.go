// Package model holds the plain value types shared by the book, matching,
// analytics and iv packages: orders, trades, sides and the boundary error
// sentinels callers match on.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side is which book an order rests on or trades against.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes how an order sources its liquidity.
type OrderType int

const (
	LimitOrder OrderType = iota
	MarketOrder
	IcebergOrder
)

func (t OrderType) String() string {
	switch t {
	case LimitOrder:
		return "LIMIT"
	case MarketOrder:
		return "MARKET"
	case IcebergOrder:
		return "ICEBERG"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce is the submission's resting/cancellation policy.
type TimeInForce int

const (
	GTC TimeInForce = iota // Good-Til-Cancelled: rests until explicitly cancelled.
	IOC                    // Immediate-Or-Cancel: fill what's available, discard the rest.
	FOK                    // Fill-Or-Kill: all-or-nothing.
	GTD                    // Good-Til-Date: rests until ExpiryUnixNano.
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case GTD:
		return "GTD"
	default:
		return "UNKNOWN"
	}
}

// OrderID is a globally unique 128-bit identifier.
type OrderID = uuid.UUID

// NewOrderID mints a fresh random order id.
func NewOrderID() OrderID {
	return uuid.New()
}

// Order is the resting/arriving order value. Identity (ID, Side, Price,
// TimeInForce, VisibleQuantity) is immutable after submission; only the
// quantity fields are mutated by the matching engine.
type Order struct {
	ID        OrderID
	Side      Side
	OrderType OrderType
	Price     int64 // minimum tick units; ignored (treated as +Inf/0) for market orders.

	QuantityTotal     uint64 // original submitted quantity.
	QuantityRemaining uint64 // visible + hidden remaining; monotone non-increasing.

	// Iceberg fields. For a plain (non-iceberg) order, VisibleQuantity ==
	// QuantityTotal, HiddenRemaining == 0 and VisibleRemaining ==
	// QuantityRemaining while the order rests in a PriceLevel (an incoming
	// order's visible/hidden split is only set when its residual rests).
	VisibleQuantity  uint64 // the slice size re-exposed at the tail on reshuffle.
	VisibleRemaining uint64 // currently exposed remaining at the head of the queue.
	HiddenRemaining  uint64 // reserve not yet exposed.

	TimeInForce    TimeInForce
	ExpiryUnixNano int64 // only meaningful when TimeInForce == GTD.

	Timestamp int64 // submission time, monotonic nanoseconds; observability only.
	Extra     any   // opaque user payload, carried, never inspected.

	seq uint64 // enqueue sequence within its PriceLevel; breaks ties, not exported.
}

// AssignSeq stamps the order with its enqueue sequence within the
// PriceLevel it was just pushed onto. Called only by internal/book.
func (o *Order) AssignSeq(seq uint64) {
	o.seq = seq
}

// Seq returns the last-assigned enqueue sequence, for tests/debugging.
func (o *Order) Seq() uint64 {
	return o.seq
}

// IsIceberg reports whether the order has a hidden reserve.
func (o *Order) IsIceberg() bool {
	return o.OrderType == IcebergOrder
}

// Filled reports whether the order has no remaining quantity.
func (o *Order) Filled() bool {
	return o.QuantityRemaining == 0
}

// Expired reports whether a GTD order's expiry has passed as of now.
// Non-GTD orders are never expired.
func (o *Order) Expired(nowUnixNano int64) bool {
	return o.TimeInForce == GTD && nowUnixNano >= o.ExpiryUnixNano
}

func (o Order) String() string {
	return fmt.Sprintf(
		`ID:               %s
Side:             %s
OrderType:        %s
Price:            %d
Quantity:         %d / %d (visible=%d hidden=%d)
TimeInForce:      %s
Timestamp:        %s`,
		o.ID,
		o.Side,
		o.OrderType,
		o.Price,
		o.QuantityRemaining, o.QuantityTotal, o.VisibleRemaining, o.HiddenRemaining,
		o.TimeInForce,
		time.Unix(0, o.Timestamp).UTC().Format(time.RFC3339Nano),
	)
}
