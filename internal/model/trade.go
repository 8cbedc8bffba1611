package model

import (
	"fmt"
	"time"
)

// Trade is emitted by the matching engine for every fill.
type Trade struct {
	MakerOrderID  OrderID
	TakerOrderID  OrderID
	Price         int64
	Quantity      uint64
	Timestamp     int64
	Symbol        string
	AggressorSide Side
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Symbol:         %s
Maker:          %s
Taker:          %s
Price:          %d
Quantity:       %d
AggressorSide:  %s
Timestamp:      %s`,
		t.Symbol,
		t.MakerOrderID,
		t.TakerOrderID,
		t.Price,
		t.Quantity,
		t.AggressorSide,
		time.Unix(0, t.Timestamp).UTC().Format(time.RFC3339Nano),
	)
}
