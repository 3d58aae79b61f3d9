package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePair(t *testing.T) {
	p, err := ParsePair("eth_usdt")
	require.NoError(t, err)
	assert.Equal(t, "ETH", p.Base)
	assert.Equal(t, "USDT", p.Quote)
	assert.Equal(t, "ETH_USDT", p.String())

	for _, bad := range []string{"ETHUSDT", "_USDT", "ETH_", "A_B_C", ""} {
		_, err := ParsePair(bad)
		assert.Error(t, err, bad)
	}
}

func TestTick_Validate(t *testing.T) {
	valid := Tick{
		Pair:      NewTradePair("BTC", "USDT"),
		Price:     decimal.NewFromInt(100),
		Quantity:  decimal.NewFromInt(1),
		Timestamp: time.Unix(1, 0),
	}
	assert.NoError(t, valid.Validate())

	noPair := valid
	noPair.Pair = TradePair{}
	assert.Error(t, noPair.Validate())

	zeroPrice := valid
	zeroPrice.Price = decimal.Zero
	assert.Error(t, zeroPrice.Validate())

	negativeQty := valid
	negativeQty.Quantity = decimal.NewFromInt(-1)
	assert.Error(t, negativeQty.Validate())
}

func TestOrderBook_Best(t *testing.T) {
	empty := OrderBook{}
	_, ok := empty.BestBid()
	assert.False(t, ok)
	_, ok = empty.BestAsk()
	assert.False(t, ok)

	book := OrderBook{
		Bids: []PriceLevel{{Price: decimal.NewFromInt(99)}},
		Asks: []PriceLevel{{Price: decimal.NewFromInt(101)}},
	}
	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(decimal.NewFromInt(99)))
	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(decimal.NewFromInt(101)))
}
