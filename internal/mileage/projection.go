package mileage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// RankKey selects the account figure a leaderboard is ordered by.
type RankKey string

const (
	RankByAvailable RankKey = "available"
	RankByTotal     RankKey = "total"
	RankByUsed      RankKey = "used"
	RankByUsageRate RankKey = "usage_rate"
)

// ParseRankKey defaults to RankByAvailable for an empty value.
func ParseRankKey(raw string) (RankKey, error) {
	switch key := RankKey(strings.ToLower(strings.TrimSpace(raw))); key {
	case "":
		return RankByAvailable, nil
	case RankByAvailable, RankByTotal, RankByUsed, RankByUsageRate:
		return key, nil
	default:
		return "", fmt.Errorf("unknown rank key %q", raw)
	}
}

// RankedAccount is one leaderboard row.
type RankedAccount struct {
	Rank      int             `json:"rank"`
	Account   Account         `json:"account"`
	UsageRate decimal.Decimal `json:"usage_rate"`
}

// UsageRate is used/total. An account that never earned has rate zero.
func UsageRate(a Account) decimal.Decimal {
	if a.TotalPoints <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(a.UsedPoints).Div(decimal.NewFromInt(a.TotalPoints))
}

func rankValue(a Account, key RankKey) decimal.Decimal {
	switch key {
	case RankByTotal:
		return decimal.NewFromInt(a.TotalPoints)
	case RankByUsed:
		return decimal.NewFromInt(a.UsedPoints)
	case RankByUsageRate:
		return UsageRate(a)
	default:
		return decimal.NewFromInt(a.AvailablePoints)
	}
}

// Leaderboard orders a snapshot by key, highest first. Equal values share a
// rank and the following rank is skipped. A limit <= 0 returns every account.
// The input slice is not modified.
func Leaderboard(accounts []Account, key RankKey, limit int) []RankedAccount {
	type scored struct {
		account Account
		value   decimal.Decimal
	}
	rows := make([]scored, 0, len(accounts))
	for _, account := range accounts {
		rows = append(rows, scored{account: account, value: rankValue(account, key)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if cmp := rows[i].value.Cmp(rows[j].value); cmp != 0 {
			return cmp > 0
		}
		return rows[i].account.UserID < rows[j].account.UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	ranked := make([]RankedAccount, 0, len(rows))
	for i, row := range rows {
		rank := i + 1
		if i > 0 && row.value.Equal(rows[i-1].value) {
			rank = ranked[i-1].Rank
		}
		ranked = append(ranked, RankedAccount{
			Rank:      rank,
			Account:   row.account,
			UsageRate: UsageRate(row.account).Round(4),
		})
	}
	return ranked
}

// RankOf returns 1 + the number of accounts with a strictly greater value.
// The second result is false when userID has no account in the snapshot.
func RankOf(accounts []Account, userID string, key RankKey) (int, bool) {
	var target *Account
	for i := range accounts {
		if accounts[i].UserID == userID {
			target = &accounts[i]
			break
		}
	}
	if target == nil {
		return 0, false
	}
	value := rankValue(*target, key)
	rank := 1
	for _, account := range accounts {
		if rankValue(account, key).GreaterThan(value) {
			rank++
		}
	}
	return rank, true
}

// FilterByUsageRate keeps accounts with a usage rate >= min, ordered by rate
// descending. Accounts that never earned are excluded.
func FilterByUsageRate(accounts []Account, min decimal.Decimal) []Account {
	var out []Account
	for _, account := range accounts {
		if account.TotalPoints <= 0 {
			continue
		}
		if UsageRate(account).GreaterThanOrEqual(min) {
			out = append(out, account)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return UsageRate(out[i]).GreaterThan(UsageRate(out[j]))
	})
	return out
}

// Stats aggregates a snapshot of accounts.
type Stats struct {
	Accounts         int             `json:"accounts"`
	ActiveAccounts   int             `json:"active_accounts"`
	TotalPoints      int64           `json:"total_points"`
	AvailablePoints  int64           `json:"available_points"`
	UsedPoints       int64           `json:"used_points"`
	AverageTotal     decimal.Decimal `json:"average_total"`
	AverageAvailable decimal.Decimal `json:"average_available"`
	AverageUsed      decimal.Decimal `json:"average_used"`
	UsageRate        decimal.Decimal `json:"usage_rate"`
}

// Summarize computes sums and averages. An empty snapshot yields zeros.
func Summarize(accounts []Account) Stats {
	stats := Stats{
		Accounts:         len(accounts),
		AverageTotal:     decimal.Zero,
		AverageAvailable: decimal.Zero,
		AverageUsed:      decimal.Zero,
		UsageRate:        decimal.Zero,
	}
	for _, account := range accounts {
		stats.TotalPoints += account.TotalPoints
		stats.AvailablePoints += account.AvailablePoints
		stats.UsedPoints += account.UsedPoints
		if account.AvailablePoints > 0 {
			stats.ActiveAccounts++
		}
	}
	if len(accounts) == 0 {
		return stats
	}
	n := decimal.NewFromInt(int64(len(accounts)))
	stats.AverageTotal = decimal.NewFromInt(stats.TotalPoints).DivRound(n, 2)
	stats.AverageAvailable = decimal.NewFromInt(stats.AvailablePoints).DivRound(n, 2)
	stats.AverageUsed = decimal.NewFromInt(stats.UsedPoints).DivRound(n, 2)
	if stats.TotalPoints > 0 {
		stats.UsageRate = decimal.NewFromInt(stats.UsedPoints).DivRound(decimal.NewFromInt(stats.TotalPoints), 4)
	}
	return stats
}
