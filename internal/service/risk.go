package service

import "github.com/ayo6706/legal-settlement/internal/domain"

// RiskInput collects the signals used to score a withdrawal request.
type RiskInput struct {
	Amount           domain.Money
	AverageCompleted domain.Money
	CompletedCount   int64
	// RecentCount is requests submitted in the last 24 hours, excluding this one.
	RecentCount     int64
	FirstUseAccount bool
	Method          string
}

const (
	largeWithdrawal      = domain.Money(5_000_000) // 50,000 CNY
	sizeableWithdrawal   = domain.Money(1_000_000) // 10,000 CNY
	maxRiskScore         = 100
	unverifiedMethodRisk = 10
)

// ScoreWithdrawal returns a risk score in [0, 100]. Requests scoring below the
// configured threshold are approved without an administrator.
func ScoreWithdrawal(in RiskInput) int {
	score := 0

	switch {
	case in.CompletedCount == 0 || in.AverageCompleted <= 0:
		score += 20
	case in.Amount > 5*in.AverageCompleted:
		score += 40
	case in.Amount > 2*in.AverageCompleted:
		score += 25
	case in.Amount*5 > in.AverageCompleted*6:
		score += 10
	}

	switch {
	case in.Amount >= largeWithdrawal:
		score += 20
	case in.Amount >= sizeableWithdrawal:
		score += 10
	}

	switch {
	case in.RecentCount >= 5:
		score += 30
	case in.RecentCount >= 3:
		score += 20
	case in.RecentCount >= 1:
		score += 5
	}

	if in.FirstUseAccount {
		score += 15
	}
	if !accountMethodVerified(in.Method) {
		score += unverifiedMethodRisk
	}

	if score > maxRiskScore {
		return maxRiskScore
	}
	return score
}

// Alipay and WeChat accounts are real-name verified by the provider; bank
// cards entered by hand are not.
func accountMethodVerified(method string) bool {
	return method == "alipay" || method == "wechat"
}
