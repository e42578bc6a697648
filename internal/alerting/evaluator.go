package alerting

import (
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
)

// Evaluate 判断价格是否越过阈值。比较是严格的: 恰好等于阈值不会触发,
// 未知条件一律视为未触发。
func Evaluate(price, threshold decimal.Decimal, cond domain.Condition) bool {
	switch cond {
	case domain.ConditionAbove:
		return price.GreaterThan(threshold)
	case domain.ConditionBelow:
		return price.LessThan(threshold)
	default:
		return false
	}
}
