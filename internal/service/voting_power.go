package service

import (
	"github.com/shopspring/decimal"
)

const (
	stakePerVote      = 1000 // 每 1000 质押折合 1 票
	reputationPerVote = 10   // 每 10 点声誉折合 1 票
)

var stakePerVoteDec = decimal.NewFromInt(stakePerVote)

// VotingPower 投票权重 = max(1, floor(质押/1000) + floor(声誉/10))
//
// 每次投票时重新计算，结果作为快照写入投票记录
func VotingPower(staked decimal.Decimal, reputation int64) int64 {
	power := staked.Div(stakePerVoteDec).Floor().IntPart() + floorDiv(reputation, reputationPerVote)
	if power < 1 {
		return 1
	}
	return power
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
