// Package statistic provides incremental performance analytics for replay runs.
package statistic

import (
	"fmt"
	"strings"
	"time"

	"github.com/coachpo/replay/errs"
)

// TimeInterval is the unit of time a metric is expressed over.
type TimeInterval interface {
	Name() string
	Interval() time.Duration
}

const day = 24 * time.Hour

// Daily expresses metrics per calendar day.
type Daily struct{}

func (Daily) Name() string            { return "Daily" }
func (Daily) Interval() time.Duration { return day }

// Annual252 expresses metrics per trading year of 252 sessions.
type Annual252 struct{}

func (Annual252) Name() string            { return "Annual(252)" }
func (Annual252) Interval() time.Duration { return 252 * day }

// Annual365 expresses metrics per calendar year.
type Annual365 struct{}

func (Annual365) Name() string            { return "Annual(365)" }
func (Annual365) Interval() time.Duration { return 365 * day }

// Custom expresses metrics over an arbitrary duration, usually the span of a run.
type Custom struct {
	Duration time.Duration
}

func (c Custom) Name() string {
	return fmt.Sprintf("Duration %.2f (minutes)", c.Duration.Minutes())
}

func (c Custom) Interval() time.Duration { return c.Duration }

// ParseInterval maps a config token onto a reporting interval.
func ParseInterval(raw string) (TimeInterval, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "daily", "day", "1d":
		return Daily{}, nil
	case "annual_252", "annual-252", "annual(252)", "annual252":
		return Annual252{}, nil
	case "annual_365", "annual-365", "annual(365)", "annual365":
		return Annual365{}, nil
	default:
		return nil, errs.New("statistic", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown summary interval %q", raw)),
			errs.WithRemediation("use daily, annual_252, or annual_365"))
	}
}
