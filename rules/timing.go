//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// DeferredDuration detects durations recorded with defer, where time.Since
// is evaluated when the defer statement runs and the metric records ~0s.
//
// Broken:
//
//	defer recorder.RecordDuration(metrics.OpUpload, time.Since(start).Seconds())
//
// Correct:
//
//	defer func() { recorder.RecordDuration(metrics.OpUpload, time.Since(start).Seconds()) }()
func DeferredDuration(m dsl.Matcher) {
	m.Match(
		`defer $r.RecordDuration($op, time.Since($start).Seconds())`,
		`defer $r.Observe(time.Since($start).Seconds())`,
	).
		Report("time.Since($start) is evaluated at defer time; wrap the call in func() to measure the operation")

	m.Match(
		`defer $fn(time.Since($start))`,
		`defer $fn($*_, time.Since($start))`,
	).
		Report("time.Since($start) is evaluated at defer time, not function exit; wrap in func() to measure actual duration")
}

// TimerChannelLen flags len() on timer and ticker channels, which is always 0
// since Go 1.23.
func TimerChannelLen(m dsl.Matcher) {
	m.Match(`len($t.C)`).
		Where(m["t"].Type.Is("*time.Timer") || m["t"].Type.Is("*time.Ticker")).
		Report("len() on timer channel is always 0 in Go 1.23+; use a non-blocking select instead")
}
