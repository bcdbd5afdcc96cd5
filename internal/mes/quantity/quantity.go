// Package quantity 按计量单位精度进行数量舍入与比较
package quantity

import "github.com/shopspring/decimal"

// DefaultRounding 计量单位未设置精度时使用的默认精度
const DefaultRounding = 0.01

func precision(rounding float64) decimal.Decimal {
	if rounding <= 0 {
		rounding = DefaultRounding
	}
	return decimal.NewFromFloat(rounding)
}

func roundDecimal(v decimal.Decimal, rounding float64) decimal.Decimal {
	r := precision(rounding)
	return v.Div(r).Round(0).Mul(r)
}

// Round 按精度四舍五入（远离零）
func Round(v, rounding float64) float64 {
	f, _ := roundDecimal(decimal.NewFromFloat(v), rounding).Float64()
	return f
}

// Compare 在精度容差内比较 a 与 b：|a-b| 小于半个精度视为相等返回0，否则返回 -1 或 1
func Compare(a, b, rounding float64) int {
	diff := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b))
	half := precision(rounding).Div(decimal.NewFromInt(2))
	if diff.Abs().LessThan(half) {
		return 0
	}
	return diff.Sign()
}

// IsZero 在精度容差内是否为零
func IsZero(v, rounding float64) bool {
	return Compare(v, 0, rounding) == 0
}

// ToProduce 剩余待生产数量 = round(目标数量 - 工单已完工数量)
func ToProduce(productQty, orderProduced, rounding float64) float64 {
	remaining := decimal.NewFromFloat(productQty).Sub(decimal.NewFromFloat(orderProduced))
	f, _ := roundDecimal(remaining, rounding).Float64()
	return f
}

// IsProduced 产出数量是否达到目标（容差内大于等于）
func IsProduced(produced, target, rounding float64) bool {
	return Compare(produced, target, rounding) >= 0
}
