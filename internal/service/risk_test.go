package service

import (
	"testing"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestScoreWithdrawal(t *testing.T) {
	tests := []struct {
		name string
		in   RiskInput
		want int
	}{
		{
			name: "new user first withdrawal",
			in:   RiskInput{Amount: 100000, FirstUseAccount: true, Method: "alipay"},
			want: 35,
		},
		{
			name: "routine repeat withdrawal",
			in:   RiskInput{Amount: 100000, AverageCompleted: 100000, CompletedCount: 4, Method: "wechat"},
			want: 0,
		},
		{
			name: "slightly above average",
			in:   RiskInput{Amount: 130000, AverageCompleted: 100000, CompletedCount: 4, Method: "wechat"},
			want: 10,
		},
		{
			name: "large spike to new bank card",
			in: RiskInput{
				Amount:           6_000_000,
				AverageCompleted: 100000,
				CompletedCount:   3,
				RecentCount:      1,
				FirstUseAccount:  true,
				Method:           "bank",
			},
			want: 90,
		},
		{
			name: "burst is capped",
			in: RiskInput{
				Amount:          6_000_000,
				RecentCount:     9,
				FirstUseAccount: true,
				Method:          "bank",
			},
			want: 95,
		},
		{
			name: "everything at once caps at 100",
			in: RiskInput{
				Amount:           domain.Money(9_000_000),
				AverageCompleted: 1000,
				CompletedCount:   1,
				RecentCount:      7,
				FirstUseAccount:  true,
				Method:           "bank",
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ScoreWithdrawal(tt.in))
		})
	}
}
