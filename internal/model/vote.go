package model

import (
	"time"
)

const (
	VoteFor     = "for"
	VoteAgainst = "against"
)

func IsValidVoteChoice(choice string) bool {
	return choice == VoteFor || choice == VoteAgainst
}

// DAOVote 投票记录表
// (proposal_id, user_id) 唯一索引保证每人每个提案只能投一次，写入后不可修改
type DAOVote struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProposalID  int64     `gorm:"uniqueIndex:uk_vote_proposal_user,priority:1;not null" json:"proposal_id"`
	UserID      int64     `gorm:"uniqueIndex:uk_vote_proposal_user,priority:2;index;not null" json:"user_id"`
	Vote        string    `gorm:"type:varchar(10);not null" json:"vote"`
	VotingPower int64     `gorm:"not null" json:"voting_power"` // 投票时的快照
	CreatedAt   time.Time `json:"created_at"`
}

func (DAOVote) TableName() string {
	return "dao_vote"
}
