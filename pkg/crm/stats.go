package crm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value returns the numeric value of key for the current or previous period.
// Missing and non-numeric values count as 0.
func (s *StatsSummary) Value(key string, prev bool) float64 {
	if s == nil {
		return 0
	}
	target := s.Current
	if prev {
		target = s.Prev
	}
	return number(target[key])
}

// Display returns the value of key as shown on the dashboard: strings as sent,
// numbers formatted, anything else "0"
func (s *StatsSummary) Display(key string, prev bool) string {
	if s == nil {
		return "0"
	}
	target := s.Current
	if prev {
		target = s.Prev
	}
	switch v := target[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "0"
	}
}

// PercentageChange formats the change of key from the previous period:
// "0%" when both are zero, "+100%" when only the previous is zero,
// otherwise a signed value with two decimals
func (s *StatsSummary) PercentageChange(key string) string {
	if s == nil {
		return "0%"
	}

	current := s.Value(key, false)
	previous := s.Value(key, true)

	if previous == 0 {
		if current == 0 {
			return "0%"
		}
		return "+100%"
	}

	change := (current - previous) / math.Abs(previous) * 100
	if change < 0 {
		return fmt.Sprintf("%.2f%%", change)
	}
	return fmt.Sprintf("+%.2f%%", change)
}

// MonthlyTrend returns the change in callbacks plus follow-ups from the month
// before month to month, rounded to two decimals. ok is false when month is
// missing, is the first point, or follows a month with no activity.
func MonthlyTrend(points []*MonthlyPoint, month string) (change float64, ok bool) {
	idx := -1
	for i, p := range points {
		if p != nil && strings.EqualFold(p.Month, month) {
			idx = i
			break
		}
	}
	if idx <= 0 || points[idx-1] == nil {
		return 0, false
	}

	current := float64(points[idx].CallBack + points[idx].FollowUp)
	previous := float64(points[idx-1].CallBack + points[idx-1].FollowUp)
	if previous == 0 {
		return 0, false
	}

	change = (current - previous) / previous * 100
	return math.Round(change*100) / 100, true
}

// AchievedTotals sums and averages sales and retention
func AchievedTotals(points []*AchievedPoint) AchievedSummary {
	var sum AchievedSummary
	n := 0
	for _, p := range points {
		if p == nil {
			continue
		}
		sum.Sales += p.Sales
		sum.Retention += p.Retention
		n++
	}
	if n > 0 {
		sum.AverageSales = sum.Sales / float64(n)
		sum.AverageRetention = sum.Retention / float64(n)
	}
	return sum
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
