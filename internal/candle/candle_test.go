package candle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandle_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Candle)
		wantErr bool
	}{
		{"valid", func(c *Candle) {}, false},
		{"epoch open time", func(c *Candle) { c.OpenTime = 0 }, false},
		{"negative open time", func(c *Candle) { c.OpenTime = -1; c.CloseTime = -1 + 59_999 }, true},
		{"zero open", func(c *Candle) { c.Open = c.Open.Sub(c.Open) }, true},
		{"high below low", func(c *Candle) { c.High, c.Low = c.Low, c.High }, true},
		{"close above high", func(c *Candle) { c.Close = c.High.Add(c.High) }, true},
		{"close time before open time", func(c *Candle) { c.CloseTime = c.OpenTime - 1 }, true},
		{"bad timeframe", func(c *Candle) { c.Timeframe = "2m" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := minuteBar(0, 100, 105, 99, 101)
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
