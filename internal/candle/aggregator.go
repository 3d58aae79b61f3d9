package candle

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/tfutils"
)

// SequenceError reports a gap, duplicate or out-of-order bar in the input
// stream. It is fatal to the run: indicators computed over a silently-gapped
// series would be wrong, so the aggregator refuses to continue.
type SequenceError struct {
	Expected int64 // expected openTime (millis)
	Got      int64 // observed openTime (millis)
}

func (e *SequenceError) Error() string {
	if e.Got <= e.Expected {
		return fmt.Sprintf("out-of-order or duplicate candle: open time %d not after %d", e.Got, e.Expected)
	}
	return fmt.Sprintf("candle sequence gap: expected open time %d, got %d", e.Expected, e.Got)
}

// KlineAggregator builds a bounded window of coarse-timeframe bars from a
// strictly sequential fine-grained bar stream. It is not safe for concurrent
// use; each aggregator belongs to exactly one consumer.
type KlineAggregator struct {
	timeframe string
	spanMs    int64
	capacity  int

	sealed  []Candle // ring storage, oldest at head
	head    int
	size    int
	current *Candle // coarse bar under construction
	lastEnd int64   // closeTime of the last accepted fine bar, 0 before first
}

// NewKlineAggregator creates an aggregator producing bars of the given
// coarse timeframe, keeping at most capacity sealed bars.
func NewKlineAggregator(timeframe string, capacity int) (*KlineAggregator, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("aggregator capacity must be positive, got %d", capacity)
	}
	return &KlineAggregator{
		timeframe: timeframe,
		spanMs:    tfutils.GetTimeframeMillis(timeframe),
		capacity:  capacity,
		sealed:    make([]Candle, capacity),
	}, nil
}

func (a *KlineAggregator) Timeframe() string { return a.timeframe }

// Add appends one or more strictly sequential fine-grained bars. Each bar
// either extends the open coarse bar or seals it and starts the next one.
// A gap or out-of-order bar returns a *SequenceError and leaves the window
// untouched for that bar.
func (a *KlineAggregator) Add(bars ...Candle) error {
	for _, bar := range bars {
		if err := bar.Validate(); err != nil {
			return fmt.Errorf("invalid candle: %w", err)
		}
		if a.lastEnd != 0 {
			if bar.OpenTime != a.lastEnd+1 {
				return &SequenceError{Expected: a.lastEnd + 1, Got: bar.OpenTime}
			}
		}
		a.fold(bar)
		a.lastEnd = bar.CloseTime
	}
	return nil
}

func (a *KlineAggregator) fold(bar Candle) {
	bucketOpen := tfutils.BucketOpenMillis(bar.OpenTime, a.timeframe)

	if a.current != nil && a.current.OpenTime != bucketOpen {
		a.seal()
	}

	if a.current == nil {
		c := bar
		c.Timeframe = a.timeframe
		c.OpenTime = bucketOpen
		c.CloseTime = bucketOpen + a.spanMs - 1
		c.Source = "constructed"
		a.current = &c
		return
	}

	a.current.merge(bar)
}

// CloseCurrent force-seals the in-progress coarse bar even if its time
// boundary has not been reached. Used to flush partial state at run start
// and backtest end.
func (a *KlineAggregator) CloseCurrent() {
	if a.current != nil {
		a.seal()
	}
}

func (a *KlineAggregator) seal() {
	idx := (a.head + a.size) % a.capacity
	a.sealed[idx] = *a.current
	if a.size == a.capacity {
		a.head = (a.head + 1) % a.capacity // evict oldest
	} else {
		a.size++
	}
	a.current = nil
}

// Reset discards the window and the in-progress bar so the next Add starts
// a fresh sequence. Used to re-anchor on a source stream with a known,
// tolerated discontinuity.
func (a *KlineAggregator) Reset() {
	a.head = 0
	a.size = 0
	a.current = nil
	a.lastEnd = 0
}

// Window returns the sealed bars oldest-first, at most capacity of them.
// The returned slice is a copy.
func (a *KlineAggregator) Window() []Candle {
	out := make([]Candle, a.size)
	for i := 0; i < a.size; i++ {
		out[i] = a.sealed[(a.head+i)%a.capacity]
	}
	return out
}

// Closes returns the closing prices of the sealed window, oldest-first.
func (a *KlineAggregator) Closes() []decimal.Decimal {
	out := make([]decimal.Decimal, a.size)
	for i := 0; i < a.size; i++ {
		out[i] = a.sealed[(a.head+i)%a.capacity].Close
	}
	return out
}

// Len returns the number of sealed bars currently held.
func (a *KlineAggregator) Len() int { return a.size }
