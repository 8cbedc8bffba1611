// Package snapshot persists book state: a top-N-levels-per-side record
// with a SHA-256 content checksum, and the restore path that verifies it
// before swapping a fresh book in. The wire format is canonical JSON.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"orderbook/internal/book"
	"orderbook/internal/model"
)

// FormatVersion is bumped whenever the wire schema changes incompatibly.
const FormatVersion = 1

// OrderWire is one resting order's persisted fields.
type OrderWire struct {
	ID      string `json:"id"`
	Visible uint64 `json:"visible"`
	Hidden  uint64 `json:"hidden,omitempty"`
	TIF     string `json:"tif"`
}

// LevelWire is one persisted price level.
type LevelWire struct {
	Price  int64       `json:"price"`
	Orders []OrderWire `json:"orders"`
}

// RawSnapshot is the full persisted record. encoding/json preserves
// struct field order, and the checksum is defined over that same order,
// so the field order here is part of the wire format.
type RawSnapshot struct {
	FormatVersion  uint32      `json:"format_version"`
	Symbol         string      `json:"symbol"`
	TimestampNs    int64       `json:"timestamp_ns"`
	Bids           []LevelWire `json:"bids"`
	Asks           []LevelWire `json:"asks"`
	ChecksumSHA256 string      `json:"checksum_sha256"`
}

// checksumPayload is RawSnapshot minus the checksum field itself - the
// checksum covers every other field, in this order.
type checksumPayload struct {
	FormatVersion uint32      `json:"format_version"`
	Symbol        string      `json:"symbol"`
	TimestampNs   int64       `json:"timestamp_ns"`
	Bids          []LevelWire `json:"bids"`
	Asks          []LevelWire `json:"asks"`
}

// ToJSON serializes s to its canonical wire bytes.
func (s RawSnapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// Build takes a point-in-time persistable snapshot of the top n levels of
// each side of ob.
func Build(ob *book.OrderBook, n int, timestampNs int64) (RawSnapshot, error) {
	payload := checksumPayload{
		FormatVersion: FormatVersion,
		Symbol:        ob.Symbol,
		TimestampNs:   timestampNs,
		Bids:          wireLevels(ob.Bids, n),
		Asks:          wireLevels(ob.Asks, n),
	}
	sum, err := checksum(payload)
	if err != nil {
		return RawSnapshot{}, err
	}
	return RawSnapshot{
		FormatVersion:  payload.FormatVersion,
		Symbol:         payload.Symbol,
		TimestampNs:    payload.TimestampNs,
		Bids:           payload.Bids,
		Asks:           payload.Asks,
		ChecksumSHA256: sum,
	}, nil
}

func wireLevels(side *book.BookSide, n int) []LevelWire {
	var out []LevelWire
	count := 0
	side.IterateFromBest(func(lvl *book.PriceLevel) bool {
		if count >= n {
			return false
		}
		views := lvl.Snapshot()
		orders := make([]OrderWire, len(views))
		for i, v := range views {
			orders[i] = OrderWire{
				ID:      v.ID.String(),
				Visible: v.VisibleRemaining,
				Hidden:  v.HiddenRemaining,
				TIF:     v.TimeInForce.String(),
			}
		}
		out = append(out, LevelWire{Price: lvl.Price(), Orders: orders})
		count++
		return count < n
	})
	return out
}

func checksum(p checksumPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Parse decodes a RawSnapshot from its canonical wire bytes. It does not
// verify the checksum or format version; call Verify for that.
func Parse(data []byte) (RawSnapshot, error) {
	var s RawSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return RawSnapshot{}, fmt.Errorf("%w: %v", model.ErrCorruptSnapshot, err)
	}
	return s, nil
}

// Verify checks format_version and recomputes the checksum over every
// other field. A restore must never trust an unverified snapshot.
func (s RawSnapshot) Verify() error {
	if s.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: got %d want %d", model.ErrVersionMismatch, s.FormatVersion, FormatVersion)
	}
	want, err := checksum(checksumPayload{
		FormatVersion: s.FormatVersion,
		Symbol:        s.Symbol,
		TimestampNs:   s.TimestampNs,
		Bids:          s.Bids,
		Asks:          s.Asks,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrCorruptSnapshot, err)
	}
	if want != s.ChecksumSHA256 {
		return fmt.Errorf("%w: checksum mismatch", model.ErrCorruptSnapshot)
	}
	return nil
}

// Restore verifies s and, only on success, builds a fresh OrderBook
// populated from it. The caller swaps this scratch book in for the live
// one; a failed restore never touches the book currently in use.
func Restore(s RawSnapshot) (*book.OrderBook, error) {
	if err := s.Verify(); err != nil {
		return nil, err
	}
	ob := book.NewOrderBook(s.Symbol)
	restoreSide(ob, model.Buy, s.Bids)
	restoreSide(ob, model.Sell, s.Asks)
	return ob, nil
}

func restoreSide(ob *book.OrderBook, side model.Side, levels []LevelWire) {
	for _, lvl := range levels {
		for _, ow := range lvl.Orders {
			id, err := uuid.Parse(ow.ID)
			if err != nil {
				continue // Verify already confirmed the checksum over this exact payload.
			}
			total := ow.Visible + ow.Hidden
			orderType := model.LimitOrder
			if ow.Hidden > 0 {
				orderType = model.IcebergOrder
			}
			o := &model.Order{
				ID:                id,
				Side:              side,
				OrderType:         orderType,
				Price:             lvl.Price,
				QuantityTotal:     total,
				QuantityRemaining: total,
				VisibleQuantity:   ow.Visible,
				VisibleRemaining:  ow.Visible,
				HiddenRemaining:   ow.Hidden,
				TimeInForce:       parseTIF(ow.TIF),
			}
			ob.Side(side).Insert(o)
			ob.RegisterIndex(o.ID, side, lvl.Price)
		}
	}
}

func parseTIF(s string) model.TimeInForce {
	switch s {
	case "IOC":
		return model.IOC
	case "FOK":
		return model.FOK
	case "GTD":
		return model.GTD
	default:
		return model.GTC
	}
}
