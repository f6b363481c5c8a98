package mqtt

import (
	"sync"
	"time"
)

// DailyStats counts the day's turns, tokens and orders, resetting at
// local midnight. It is safe for concurrent use.
type DailyStats struct {
	mu       sync.Mutex
	input    int64
	output   int64
	turns    int64
	orders   int64
	handoffs int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
}

// StatsSnapshot is the payload published to the stats topic.
type StatsSnapshot struct {
	Date         string `json:"date"`
	Turns        int64  `json:"turns"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Orders       int64  `json:"orders"`
	Handoffs     int64  `json:"handoffs"`
}

// NewDailyStats creates a new accumulator using the given timezone for
// midnight detection. If loc is nil, [time.Local] is used.
func NewDailyStats(loc *time.Location) *DailyStats {
	if loc == nil {
		loc = time.Local
	}
	return &DailyStats{
		resetDay: time.Now().In(loc).YearDay(),
		loc:      loc,
	}
}

// OnTokens records the token counts of one model call.
func (d *DailyStats) OnTokens(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.input += int64(inputTokens)
	d.output += int64(outputTokens)
}

// OnTurn records one completed turn.
func (d *DailyStats) OnTurn() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.turns++
}

// OnOrder records one created order.
func (d *DailyStats) OnOrder() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.orders++
}

// OnHandoff records one handoff request.
func (d *DailyStats) OnHandoff() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.handoffs++
}

// Snapshot returns the current totals after checking for midnight
// rollover.
func (d *DailyStats) Snapshot() StatsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return StatsSnapshot{
		Date:         time.Now().In(d.loc).Format(time.DateOnly),
		Turns:        d.turns,
		InputTokens:  d.input,
		OutputTokens: d.output,
		Orders:       d.orders,
		Handoffs:     d.handoffs,
	}
}

// maybeReset zeroes the counters if the local day-of-year has changed.
// Must be called with d.mu held.
func (d *DailyStats) maybeReset() {
	today := time.Now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.input = 0
		d.output = 0
		d.turns = 0
		d.orders = 0
		d.handoffs = 0
		d.resetDay = today
	}
}
