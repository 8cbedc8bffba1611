package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbook/internal/model"
)

func plainOrder(price int64, qty uint64) *model.Order {
	return &model.Order{
		ID:                model.NewOrderID(),
		Side:              model.Sell,
		OrderType:         model.LimitOrder,
		Price:             price,
		QuantityTotal:     qty,
		QuantityRemaining: qty,
		VisibleQuantity:   qty,
		VisibleRemaining:  qty,
		TimeInForce:       model.GTC,
	}
}

func icebergOrder(price int64, total, visible uint64) *model.Order {
	return &model.Order{
		ID:                model.NewOrderID(),
		Side:              model.Sell,
		OrderType:         model.IcebergOrder,
		Price:             price,
		QuantityTotal:     total,
		QuantityRemaining: total,
		VisibleQuantity:   visible,
		VisibleRemaining:  visible,
		HiddenRemaining:   total - visible,
		TimeInForce:       model.GTC,
	}
}

// assertSumsConsistent checks the cached sums against the pointwise sum
// over the surviving queue.
func assertSumsConsistent(t *testing.T, lvl *PriceLevel) {
	t.Helper()
	var visible, hidden uint64
	for _, v := range lvl.Snapshot() {
		visible += v.VisibleRemaining
		hidden += v.HiddenRemaining
	}
	assert.Equal(t, visible, lvl.TotalVisible(), "cached visible sum drifted")
	assert.Equal(t, hidden, lvl.TotalHidden(), "cached hidden sum drifted")
}

func TestPushBackUpdatesCachedSums(t *testing.T) {
	lvl := newPriceLevel(100, model.Sell)
	lvl.PushBack(plainOrder(100, 10))
	lvl.PushBack(icebergOrder(100, 30, 5))

	assert.EqualValues(t, 15, lvl.TotalVisible())
	assert.EqualValues(t, 25, lvl.TotalHidden())
	assert.Equal(t, 2, lvl.Count())
	assertSumsConsistent(t, lvl)
}

func TestConsumeFrontPartialKeepsHead(t *testing.T) {
	lvl := newPriceLevel(100, model.Sell)
	o := plainOrder(100, 10)
	lvl.PushBack(o)

	fill, head, removed, reshuffled := lvl.ConsumeFront(4)
	assert.EqualValues(t, 4, fill)
	assert.Equal(t, o, head)
	assert.False(t, removed)
	assert.False(t, reshuffled)
	assert.EqualValues(t, 6, lvl.TotalVisible())
	assert.EqualValues(t, 6, o.QuantityRemaining)
	assertSumsConsistent(t, lvl)
}

func TestConsumeFrontRemovesFullyFilledHead(t *testing.T) {
	lvl := newPriceLevel(100, model.Sell)
	first := plainOrder(100, 5)
	second := plainOrder(100, 7)
	lvl.PushBack(first)
	lvl.PushBack(second)

	fill, head, removed, _ := lvl.ConsumeFront(9)
	assert.EqualValues(t, 5, fill, "fill is bounded by the head's visible remaining")
	assert.Equal(t, first, head)
	assert.True(t, removed)

	require.Equal(t, 1, lvl.Count())
	assert.Equal(t, second, lvl.PeekFront())
	assertSumsConsistent(t, lvl)
}

func TestConsumeFrontReshufflesIcebergToTail(t *testing.T) {
	lvl := newPriceLevel(100, model.Sell)
	ice := icebergOrder(100, 30, 10)
	behind := plainOrder(100, 4)
	lvl.PushBack(ice)
	lvl.PushBack(behind)

	fill, head, removed, reshuffled := lvl.ConsumeFront(10)
	assert.EqualValues(t, 10, fill)
	assert.Equal(t, ice, head)
	assert.False(t, removed)
	assert.True(t, reshuffled)

	// The iceberg re-exposed a fresh slice but lost queue priority.
	assert.Equal(t, behind, lvl.PeekFront())
	assert.EqualValues(t, 10, ice.VisibleRemaining)
	assert.EqualValues(t, 10, ice.HiddenRemaining)
	assert.EqualValues(t, 14, lvl.TotalVisible())
	assert.EqualValues(t, 10, lvl.TotalHidden())
	assertSumsConsistent(t, lvl)
}

func TestConsumeFrontExhaustsIcebergReserve(t *testing.T) {
	lvl := newPriceLevel(100, model.Sell)
	ice := icebergOrder(100, 25, 10)
	lvl.PushBack(ice)

	// 10 visible + 10 reshuffled + 5 final slice, then removal.
	var total uint64
	for {
		fill, _, removed, _ := lvl.ConsumeFront(25 - total)
		require.Positive(t, fill)
		total += fill
		assertSumsConsistent(t, lvl)
		if removed {
			break
		}
	}
	assert.EqualValues(t, 25, total)
	assert.True(t, lvl.Empty())
	assert.EqualValues(t, 0, lvl.TotalVisible())
	assert.EqualValues(t, 0, lvl.TotalHidden())
}

func TestRemoveByID(t *testing.T) {
	lvl := newPriceLevel(100, model.Sell)
	first := plainOrder(100, 5)
	mid := icebergOrder(100, 20, 5)
	last := plainOrder(100, 3)
	lvl.PushBack(first)
	lvl.PushBack(mid)
	lvl.PushBack(last)

	removed := lvl.RemoveByID(mid.ID)
	require.Equal(t, mid, removed)
	assert.Equal(t, 2, lvl.Count())
	assert.EqualValues(t, 8, lvl.TotalVisible())
	assert.EqualValues(t, 0, lvl.TotalHidden())
	assertSumsConsistent(t, lvl)

	assert.Nil(t, lvl.RemoveByID(mid.ID), "second removal finds nothing")
}

func TestRemoveExpiredDropsOnlyPastGTD(t *testing.T) {
	lvl := newPriceLevel(100, model.Sell)
	keep := plainOrder(100, 5)
	gone := plainOrder(100, 7)
	gone.TimeInForce = model.GTD
	gone.ExpiryUnixNano = 50
	stays := plainOrder(100, 2)
	stays.TimeInForce = model.GTD
	stays.ExpiryUnixNano = 500
	lvl.PushBack(keep)
	lvl.PushBack(gone)
	lvl.PushBack(stays)

	expired := lvl.RemoveExpired(100)
	require.Len(t, expired, 1)
	assert.Equal(t, gone, expired[0])
	assert.Equal(t, 2, lvl.Count())
	assert.EqualValues(t, 7, lvl.TotalVisible())
	assertSumsConsistent(t, lvl)
}
