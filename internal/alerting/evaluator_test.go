package alerting

import (
	"testing"

	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name      string
		price     string
		threshold string
		cond      domain.Condition
		want      bool
	}{
		{"above triggers when greater", "250", "200", domain.ConditionAbove, true},
		{"above quiet when equal", "200", "200", domain.ConditionAbove, false},
		{"above quiet when less", "150", "200", domain.ConditionAbove, false},
		{"below triggers when less", "150", "200", domain.ConditionBelow, true},
		{"below quiet when equal", "200", "200", domain.ConditionBelow, false},
		{"below quiet when greater", "250", "200", domain.ConditionBelow, false},
		{"unknown condition never triggers", "250", "200", domain.Condition("between"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.threshold), tc.cond)
			if got != tc.want {
				t.Fatalf("Evaluate(%s, %s, %s) = %v, 期望 %v", tc.price, tc.threshold, tc.cond, got, tc.want)
			}
		})
	}
}

func TestEvaluateNeverBothSides(t *testing.T) {
	prices := []string{"150", "200", "250"}
	for _, p := range prices {
		price := decimal.RequireFromString(p)
		threshold := decimal.RequireFromString("200")
		above := Evaluate(price, threshold, domain.ConditionAbove)
		below := Evaluate(price, threshold, domain.ConditionBelow)
		if above && below {
			t.Fatalf("价格 %s 不应同时触发 above 与 below", p)
		}
	}
}
