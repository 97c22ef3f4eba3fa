// Package summary computes the derived views shown next to the list and the
// history: budget progress and monthly spending. Nothing here is stored; every
// value is recomputed from the state it is given.
package summary

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dukerupert/mercado/internal/model"
)

// Status is the colour tier of the budget progress bar.
type Status string

const (
	StatusNominal  Status = "nominal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusOver     Status = "over"
)

const (
	warningPercent  = 75
	criticalPercent = 90
	// MinChartMax keeps bars from filling the chart when every month is small.
	MinChartMax = 100
)

// Budget is the progress of the active list against the budget limit.
type Budget struct {
	Limit           float64 `json:"limit"`
	TotalSpent      float64 `json:"totalSpent"`
	Remaining       float64 `json:"remaining"`
	IsOverBudget    bool    `json:"isOverBudget"`
	ProgressPercent float64 `json:"progressPercent"`
	Status          Status  `json:"status"`
	ItemCount       int     `json:"itemCount"`
}

// TotalSpent sums price times quantity over every item, checked or not.
func TotalSpent(items []model.MarketItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

// ProgressPercent is spent/budget as a percentage capped at 100. A zero
// budget is treated as 1.
func ProgressPercent(spent, budget float64) float64 {
	if budget == 0 {
		budget = 1
	}
	return math.Min(spent*100/budget, 100)
}

// StatusFor picks the colour tier for a progress percentage. Being over
// budget wins over every threshold.
func StatusFor(progress float64, overBudget bool) Status {
	switch {
	case overBudget:
		return StatusOver
	case progress > criticalPercent:
		return StatusCritical
	case progress > warningPercent:
		return StatusWarning
	default:
		return StatusNominal
	}
}

// ForState computes the budget summary of st.
func ForState(st model.State) Budget {
	spent := TotalSpent(st.Items)
	remaining := st.Budget - spent
	over := remaining < 0
	progress := ProgressPercent(spent, st.Budget)
	return Budget{
		Limit:           st.Budget,
		TotalSpent:      spent,
		Remaining:       remaining,
		IsOverBudget:    over,
		ProgressPercent: progress,
		Status:          StatusFor(progress, over),
		ItemCount:       len(st.Items),
	}
}

// MonthBucket is the spending of one calendar month.
type MonthBucket struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Chart is the monthly history chart.
type Chart struct {
	Data     []MonthBucket `json:"data"`
	MaxValue float64       `json:"maxValue"`
}

var monthAbbr = [...]string{"jan", "fev", "mar", "abr", "mai", "jun", "jul", "ago", "set", "out", "nov", "dez"}

// MonthLabel formats a month as a Portuguese short month and two-digit year, e.g. "fev/24".
func MonthLabel(year int, month time.Month) string {
	return fmt.Sprintf("%s/%02d", monthAbbr[month-1], year%100)
}

// Monthly buckets trips by the calendar month of their date in loc, sums the
// totals and returns the buckets in chronological order.
func Monthly(trips []model.ShoppingTrip, loc *time.Location) Chart {
	if loc == nil {
		loc = time.Local
	}

	sums := make(map[string]float64)
	labels := make(map[string]string)
	for _, trip := range trips {
		d := trip.Date.In(loc)
		key := d.Format("2006-01")
		sums[key] += trip.Total
		labels[key] = MonthLabel(d.Year(), d.Month())
	}

	keys := make([]string, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	chart := Chart{Data: make([]MonthBucket, 0, len(keys)), MaxValue: MinChartMax}
	for _, k := range keys {
		chart.Data = append(chart.Data, MonthBucket{Key: k, Label: labels[k], Value: sums[k]})
		chart.MaxValue = math.Max(chart.MaxValue, sums[k])
	}
	return chart
}

// DisplayOrder returns the items with unchecked ones first, each group kept
// in stored order.
func DisplayOrder(items []model.MarketItem) []model.MarketItem {
	out := make([]model.MarketItem, 0, len(items))
	for _, item := range items {
		if !item.Checked {
			out = append(out, item)
		}
	}
	for _, item := range items {
		if item.Checked {
			out = append(out, item)
		}
	}
	return out
}
