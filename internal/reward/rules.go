package reward

import (
	"strings"
)

// ============================================================================
// 积分规则表
// ============================================================================
//
// 规则表与事务代码解耦：阶梯激励调整时只改这里，不碰状态机，
// 奖励口径也可以单独做表驱动验证。
//
// 基础分（按被推荐人购买的套餐）：
//   basic   -> 100  （R$49,90）
//   premium -> 200  （R$99,90）
//   vip     -> 600  （R$299,90）
//   free / 未识别 -> 0
//
// 序位加成（按推荐人此前已确认的推荐数，即本次是第几个）：
//   第1、2个 -> +0
//   第3个    -> +150
//   第4个    -> +200
//   第5个起  -> +250
//
// 换算：10 积分 = R$1，100 积分为一个提现单位
// ============================================================================

const (
	PointsBasic   = 100
	PointsPremium = 200
	PointsVIP     = 600

	BonusThird     = 150
	BonusFourth    = 200
	BonusFifthPlus = 250

	// ConversionRate 积分兑现金比率：10 积分 = R$1
	ConversionRate = 10
)

// BasePoints 套餐基础分
// 套餐名做大小写无关的包含匹配，网关侧的本地化名称（如 "Básico"）也能命中
func BasePoints(plan string) int64 {
	p := strings.ToLower(plan)
	switch {
	case strings.Contains(p, "basic") || strings.Contains(p, "básico"):
		return PointsBasic
	case strings.Contains(p, "premium"):
		return PointsPremium
	case strings.Contains(p, "vip"):
		return PointsVIP
	default:
		return 0
	}
}

// OrdinalBonus 序位加成
// priorConfirmed 为确认本条之前推荐人已确认的推荐数
func OrdinalBonus(priorConfirmed int64) int64 {
	switch {
	case priorConfirmed >= 4:
		return BonusFifthPlus
	case priorConfirmed == 3:
		return BonusFourth
	case priorConfirmed == 2:
		return BonusThird
	default:
		return 0
	}
}

// ComputePoints 计算一次推荐确认应入账的积分
// 纯函数，无副作用；未识别套餐基础分为 0，此时加成也不生效
func ComputePoints(plan string, priorConfirmed int64) int64 {
	base := BasePoints(plan)
	if base == 0 {
		return 0
	}
	return base + OrdinalBonus(priorConfirmed)
}

// CashValue 积分对应的现金价值（R$，向下取整）
func CashValue(points int64) int64 {
	return points / ConversionRate
}

// CashAmountCents 积分对应的现金价值（分）
func CashAmountCents(points int64) int64 {
	return points / ConversionRate * 100
}
