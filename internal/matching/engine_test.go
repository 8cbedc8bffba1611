package matching_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbook/internal/book"
	"orderbook/internal/matching"
	"orderbook/internal/model"
)

func newEngine() *matching.Engine {
	return matching.New("TEST")
}

// Scenario 1: a resting GTC limit order crosses with an incoming IOC limit.
func TestBasicGTCThenIOCCross(t *testing.T) {
	e := newEngine()

	restID := model.NewOrderID()
	report, err := e.SubmitLimit(restID, model.Sell, 100, 10, model.GTC, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Trades)
	require.NotNil(t, report.RestingOrderID)

	takerID := model.NewOrderID()
	report, err = e.SubmitLimit(takerID, model.Buy, 100, 6, model.IOC, 0, nil)
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.EqualValues(t, 6, report.FilledQuantity)
	assert.EqualValues(t, 0, report.UnfilledQuantity)
	assert.Nil(t, report.RestingOrderID)
	assert.Equal(t, int64(100), report.Trades[0].Price)
	assert.EqualValues(t, 6, report.Trades[0].Quantity)

	assert.Equal(t, restID, report.Trades[0].MakerOrderID)
	assert.Equal(t, takerID, report.Trades[0].TakerOrderID)
}

// Scenario 2: a market order sweeps multiple resting levels in price order.
func TestMultiLevelMarketSweep(t *testing.T) {
	e := newEngine()

	_, err := e.SubmitLimit(model.NewOrderID(), model.Sell, 101, 5, model.GTC, 0, nil)
	require.NoError(t, err)
	_, err = e.SubmitLimit(model.NewOrderID(), model.Sell, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)

	report, err := e.SubmitMarket(model.NewOrderID(), model.Buy, 8, nil)
	require.NoError(t, err)
	require.Len(t, report.Trades, 2)
	assert.Equal(t, int64(100), report.Trades[0].Price, "best (lowest ask) level fills first")
	assert.EqualValues(t, 5, report.Trades[0].Quantity)
	assert.Equal(t, int64(101), report.Trades[1].Price)
	assert.EqualValues(t, 3, report.Trades[1].Quantity)
	assert.EqualValues(t, 8, report.FilledQuantity)
	assert.EqualValues(t, 0, report.UnfilledQuantity)
}

// Scenario 3: iceberg reshuffle - the hidden reserve is re-exposed at the
// tail, losing priority to an order that arrived after the original.
func TestIcebergReshuffleLosesTailPriority(t *testing.T) {
	e := newEngine()

	icebergID := model.NewOrderID()
	_, err := e.SubmitIceberg(icebergID, model.Sell, 100, 30, 10, model.GTC, 0, nil)
	require.NoError(t, err)

	behindID := model.NewOrderID()
	_, err = e.SubmitLimit(behindID, model.Sell, 100, 10, model.GTC, 0, nil)
	require.NoError(t, err)

	// First 10 consumes the iceberg's visible slice exactly, triggering a
	// reshuffle: it goes to the tail, behind behindID.
	report, err := e.SubmitMarket(model.NewOrderID(), model.Buy, 10, nil)
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, icebergID, report.Trades[0].MakerOrderID)

	// The next 10 should now hit behindID, not the iceberg's fresh slice,
	// because the iceberg lost queue priority on reshuffle.
	report, err = e.SubmitMarket(model.NewOrderID(), model.Buy, 10, nil)
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, behindID, report.Trades[0].MakerOrderID)
}

// Scenario 4: FOK fails closed when visible liquidity can't cover it, and
// leaves the book untouched.
func TestFOKUnfillableLeavesBookUntouched(t *testing.T) {
	e := newEngine()

	_, err := e.SubmitLimit(model.NewOrderID(), model.Sell, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)

	_, err = e.SubmitLimit(model.NewOrderID(), model.Buy, 100, 10, model.FOK, 0, nil)
	assert.ErrorIs(t, err, model.ErrFOKUnfillable)

	bestAsk, ok := e.Book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(100), bestAsk)

	lvl, ok := e.Book.Asks.BestLevel()
	require.True(t, ok)
	assert.EqualValues(t, 5, lvl.TotalVisible())
}

func TestFOKFillsWhenFeasible(t *testing.T) {
	e := newEngine()

	_, err := e.SubmitLimit(model.NewOrderID(), model.Sell, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)
	_, err = e.SubmitLimit(model.NewOrderID(), model.Sell, 101, 5, model.GTC, 0, nil)
	require.NoError(t, err)

	report, err := e.SubmitLimit(model.NewOrderID(), model.Buy, 101, 10, model.FOK, 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 10, report.FilledQuantity)
	assert.EqualValues(t, 0, report.UnfilledQuantity)
	assert.Nil(t, report.RestingOrderID)
}

func TestDuplicateIDRejected(t *testing.T) {
	e := newEngine()
	id := model.NewOrderID()
	_, err := e.SubmitLimit(id, model.Buy, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)

	_, err = e.SubmitLimit(id, model.Buy, 99, 5, model.GTC, 0, nil)
	assert.ErrorIs(t, err, model.ErrDuplicateID)
}

func TestZeroQuantityRejected(t *testing.T) {
	e := newEngine()
	_, err := e.SubmitLimit(model.NewOrderID(), model.Buy, 100, 0, model.GTC, 0, nil)
	assert.ErrorIs(t, err, model.ErrZeroQuantity)
}

func TestInvalidIcebergRejected(t *testing.T) {
	e := newEngine()
	_, err := e.SubmitIceberg(model.NewOrderID(), model.Buy, 100, 10, 20, model.GTC, 0, nil)
	assert.ErrorIs(t, err, model.ErrInvalidIceberg)
}

func TestCancelIsIdempotentAfterFill(t *testing.T) {
	e := newEngine()
	restID := model.NewOrderID()
	_, err := e.SubmitLimit(restID, model.Sell, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)

	_, err = e.SubmitMarket(model.NewOrderID(), model.Buy, 5, nil)
	require.NoError(t, err)

	err = e.Cancel(restID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubscribeReceivesTrades(t *testing.T) {
	e := newEngine()
	ch, unsub := e.SubscribeChan(4)
	defer unsub()

	_, err := e.SubmitLimit(model.NewOrderID(), model.Sell, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)
	_, err = e.SubmitMarket(model.NewOrderID(), model.Buy, 5, nil)
	require.NoError(t, err)

	select {
	case tr := <-ch:
		assert.EqualValues(t, 5, tr.Quantity)
	case <-time.After(time.Second):
		t.Fatal("expected a trade on the subscribed channel")
	}
}

func TestCancelOfAlreadyExpiredGTDOrderReportsExpired(t *testing.T) {
	e := newEngine()
	id := model.NewOrderID()
	past := time.Now().Add(-time.Second).UnixNano()
	_, err := e.SubmitLimit(id, model.Buy, 100, 5, model.GTD, past, nil)
	require.NoError(t, err)

	err = e.Cancel(id)
	assert.ErrorIs(t, err, model.ErrExpired)
	assert.False(t, e.Book.HasOrder(id))
}

// A single IOC submission against a resting iceberg produces one trade
// per visible slice: 10, 10, 5 for a 25-lot taker against a 100/10
// iceberg, leaving 75 (visible 5 + hidden 70) resting.
func TestIcebergReplenishesWithinOneSubmission(t *testing.T) {
	e := newEngine()

	icebergID := model.NewOrderID()
	_, err := e.SubmitIceberg(icebergID, model.Buy, 100, 100, 10, model.GTC, 0, nil)
	require.NoError(t, err)

	report, err := e.SubmitLimit(model.NewOrderID(), model.Sell, 100, 25, model.IOC, 0, nil)
	require.NoError(t, err)
	require.Len(t, report.Trades, 3)
	assert.EqualValues(t, 10, report.Trades[0].Quantity)
	assert.EqualValues(t, 10, report.Trades[1].Quantity)
	assert.EqualValues(t, 5, report.Trades[2].Quantity)
	for _, tr := range report.Trades {
		assert.Equal(t, int64(100), tr.Price)
		assert.Equal(t, icebergID, tr.MakerOrderID)
	}
	assert.EqualValues(t, 25, report.FilledQuantity)

	lvl, ok := e.Book.Bids.BestLevel()
	require.True(t, ok)
	assert.EqualValues(t, 5, lvl.TotalVisible())
	assert.EqualValues(t, 70, lvl.TotalHidden())
	assert.True(t, e.Book.HasOrder(icebergID))
}

// An iceberg whose visible quantity equals its total degrades to a plain
// limit order: no hidden reserve, no reshuffle.
func TestIcebergVisibleEqualsTotalDegradesToLimit(t *testing.T) {
	e := newEngine()

	id := model.NewOrderID()
	_, err := e.SubmitIceberg(id, model.Sell, 100, 10, 10, model.GTC, 0, nil)
	require.NoError(t, err)

	lvl, ok := e.Book.Asks.BestLevel()
	require.True(t, ok)
	assert.EqualValues(t, 10, lvl.TotalVisible())
	assert.EqualValues(t, 0, lvl.TotalHidden())

	report, err := e.SubmitMarket(model.NewOrderID(), model.Buy, 10, nil)
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.EqualValues(t, 10, report.Trades[0].Quantity)
	assert.False(t, e.Book.HasOrder(id))
}

// Cancelling a freshly rested order leaves no observable state behind.
func TestCancelAfterSubmitIsNoOp(t *testing.T) {
	e := newEngine()

	id := model.NewOrderID()
	report, err := e.SubmitLimit(id, model.Buy, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, report.RestingOrderID)

	require.NoError(t, e.Cancel(id))
	assert.False(t, e.Book.HasOrder(id))
	assert.Equal(t, 0, e.Book.LevelCount(model.Buy))
	_, ok := e.Book.BestBid()
	assert.False(t, ok)
}

func TestMarketOrderResidualIsDiscarded(t *testing.T) {
	e := newEngine()

	_, err := e.SubmitLimit(model.NewOrderID(), model.Sell, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)

	report, err := e.SubmitMarket(model.NewOrderID(), model.Buy, 8, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, report.FilledQuantity)
	assert.EqualValues(t, 3, report.UnfilledQuantity)
	assert.Nil(t, report.RestingOrderID)
	assert.Equal(t, 0, e.Book.LevelCount(model.Buy))
}

func TestCancelAllBySide(t *testing.T) {
	e := newEngine()
	_, err := e.SubmitLimit(model.NewOrderID(), model.Buy, 99, 5, model.GTC, 0, nil)
	require.NoError(t, err)
	_, err = e.SubmitLimit(model.NewOrderID(), model.Buy, 100, 5, model.GTC, 0, nil)
	require.NoError(t, err)
	_, err = e.SubmitLimit(model.NewOrderID(), model.Sell, 101, 5, model.GTC, 0, nil)
	require.NoError(t, err)

	buy := model.Buy
	assert.Equal(t, 2, e.CancelAll(&buy))
	assert.Equal(t, 0, e.Book.LevelCount(model.Buy))
	assert.Equal(t, 1, e.Book.LevelCount(model.Sell))

	assert.Equal(t, 1, e.CancelAll(nil))
	assert.Equal(t, 0, e.Book.LevelCount(model.Sell))
}

// Concurrent crossing submissions from many goroutines must leave an
// uncrossed book, consistent cached sums, and per-report fill accounting
// that adds up.
func TestConcurrentSubmissionsKeepInvariants(t *testing.T) {
	e := newEngine()

	const perSide = 50
	var wg sync.WaitGroup
	wg.Add(2 * perSide)
	for i := 0; i < perSide; i++ {
		go func(i int) {
			defer wg.Done()
			price := int64(95 + i%10)
			report, err := e.SubmitLimit(model.NewOrderID(), model.Buy, price, 10, model.GTC, 0, nil)
			if assert.NoError(t, err) {
				assert.EqualValues(t, 10, report.FilledQuantity+report.UnfilledQuantity)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			price := int64(96 + i%10)
			report, err := e.SubmitLimit(model.NewOrderID(), model.Sell, price, 10, model.GTC, 0, nil)
			if assert.NoError(t, err) {
				assert.EqualValues(t, 10, report.FilledQuantity+report.UnfilledQuantity)
			}
		}(i)
	}
	wg.Wait()

	bid, okBid := e.Book.BestBid()
	ask, okAsk := e.Book.BestAsk()
	if okBid && okAsk {
		assert.Less(t, bid, ask, "book must never be crossed at rest")
	}

	for _, side := range []model.Side{model.Buy, model.Sell} {
		e.Book.Side(side).IterateFromBest(func(lvl *book.PriceLevel) bool {
			var visible, hidden uint64
			for _, v := range lvl.Snapshot() {
				visible += v.VisibleRemaining
				hidden += v.HiddenRemaining
			}
			assert.Equal(t, visible, lvl.TotalVisible(), "level %d visible sum", lvl.Price())
			assert.Equal(t, hidden, lvl.TotalHidden(), "level %d hidden sum", lvl.Price())
			return true
		})
	}
}

func TestGTDReaperExpiresRestingOrder(t *testing.T) {
	e := matching.New("TEST", matching.WithReapInterval(10*time.Millisecond))
	id := model.NewOrderID()
	expiry := time.Now().Add(20 * time.Millisecond).UnixNano()
	_, err := e.SubmitLimit(id, model.Buy, 100, 5, model.GTD, expiry, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Run(ctx)
	defer e.Close()

	require.Eventually(t, func() bool {
		return !e.Book.HasOrder(id)
	}, time.Second, 5*time.Millisecond)
}
