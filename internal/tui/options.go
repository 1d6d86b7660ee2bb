package tui

import "time"

type Option func(*Model)

// WithClock overrides the clock used for relative start times.
func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPendingLimit caps how many pending records the detail pane loads.
func WithPendingLimit(limit int) Option {
	return func(m *Model) {
		if limit > 0 {
			m.pendingLimit = limit
		}
	}
}

// WithSettleWindow sets the settle window passed to latency summaries.
func WithSettleWindow(settle float64) Option {
	return func(m *Model) {
		if settle >= 0 {
			m.settle = settle
		}
	}
}

// WithMarkdownStyle selects the glamour style used for the variant summary.
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		if style != "" {
			m.markdown.style = style
		}
	}
}
