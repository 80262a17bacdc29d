package domain

import (
	"fmt"
	"time"
)

// Bar is one OHLCV sample of a market at a fixed timeframe.
// Corresponds to bars table in ClickHouse.
type Bar struct {
	TimestampMs int64   // bar open time, Unix milliseconds
	Open        float64 // first traded price
	High        float64 // highest traded price
	Low         float64 // lowest traded price
	Close       float64 // last traded price
	Volume      float64 // base volume traded during the bar
}

// Aspect selects a single value of a bar.
type Aspect string

// Aspect constants.
const (
	AspectOpen   Aspect = "open"
	AspectHigh   Aspect = "high"
	AspectLow    Aspect = "low"
	AspectClose  Aspect = "close"
	AspectVolume Aspect = "volume"
)

// IsValid reports whether a is a known aspect.
func (a Aspect) IsValid() bool {
	switch a {
	case AspectOpen, AspectHigh, AspectLow, AspectClose, AspectVolume:
		return true
	}
	return false
}

// Value extracts the aspect from a bar.
func (a Aspect) Value(b Bar) float64 {
	switch a {
	case AspectOpen:
		return b.Open
	case AspectHigh:
		return b.High
	case AspectLow:
		return b.Low
	case AspectVolume:
		return b.Volume
	default:
		return b.Close
	}
}

// Timeframe is a bar interval such as "1m" or "4h".
type Timeframe string

// Supported timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the length of one bar. Unknown timeframes return 0.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	}
	return 0
}

// MarketKey addresses one bar stream in the bar store.
type MarketKey struct {
	Exchange  string
	Area      string // market area, e.g. "spot" or "futures"
	Symbol    string
	Timeframe Timeframe
}

// String returns "exchange/area/symbol@timeframe".
func (k MarketKey) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", k.Exchange, k.Area, k.Symbol, k.Timeframe)
}

// Series returns the key of one aspect of this market.
func (k MarketKey) Series(aspect Aspect) SeriesKey {
	return SeriesKey{
		Exchange:  k.Exchange,
		Area:      k.Area,
		Symbol:    k.Symbol,
		Timeframe: k.Timeframe,
		Aspect:    aspect,
	}
}

// SeriesKey identifies a single-valued time series.
// Two consumers with equal keys share one cursor.
type SeriesKey struct {
	Exchange  string
	Area      string
	Symbol    string
	Timeframe Timeframe
	Aspect    Aspect
}

// Market drops the aspect.
func (k SeriesKey) Market() MarketKey {
	return MarketKey{
		Exchange:  k.Exchange,
		Area:      k.Area,
		Symbol:    k.Symbol,
		Timeframe: k.Timeframe,
	}
}

// String returns "exchange/area/symbol@timeframe:aspect".
func (k SeriesKey) String() string {
	return k.Market().String() + ":" + string(k.Aspect)
}
