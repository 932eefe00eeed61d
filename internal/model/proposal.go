package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProposalStatusActive   = "ACTIVE"
	ProposalStatusPassed   = "PASSED"
	ProposalStatusRejected = "REJECTED"
	ProposalStatusExecuted = "EXECUTED"
)

// ValidStatusTransitions 提案状态机，EXECUTED 和 REJECTED 为终态
var ValidStatusTransitions = map[string][]string{
	ProposalStatusActive: {ProposalStatusPassed, ProposalStatusRejected},
	ProposalStatusPassed: {ProposalStatusExecuted},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	ProposalTypeTreasury   = "TREASURY"
	ProposalTypeGovernance = "GOVERNANCE"
	ProposalTypeProtocol   = "PROTOCOL"
	ProposalTypeEmergency  = "EMERGENCY"
)

var ProposalTypes = []string{
	ProposalTypeTreasury,
	ProposalTypeGovernance,
	ProposalTypeProtocol,
	ProposalTypeEmergency,
}

func IsValidProposalType(t string) bool {
	for _, pt := range ProposalTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// DAOProposal 治理提案表，只改状态和票数，不物理删除
type DAOProposal struct {
	ID             int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Title          string              `gorm:"type:varchar(200);not null" json:"title"`
	Description    string              `gorm:"type:text" json:"description"`
	ProposalType   string              `gorm:"type:varchar(20);index;not null" json:"proposal_type"`
	TargetAmount   decimal.NullDecimal `gorm:"type:decimal(36,18)" json:"target_amount"`
	CreatorID      int64               `gorm:"index;not null" json:"creator_id"`
	ForVotes       int64               `gorm:"not null;default:0" json:"for_votes"`     // 赞成票权重累计
	AgainstVotes   int64               `gorm:"not null;default:0" json:"against_votes"` // 反对票权重累计
	VotingDeadline time.Time           `gorm:"index;not null" json:"voting_deadline"`
	ExecutionTime  time.Time           `gorm:"not null" json:"execution_time"`
	Status         string              `gorm:"type:varchar(20);index;not null" json:"status"`
	ResolvedAt     *time.Time          `json:"resolved_at"`
	ExecutedAt     *time.Time          `json:"executed_at"`
	CreatedAt      time.Time           `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DAOProposal) TableName() string {
	return "dao_proposal"
}

// TotalVotes 已投票权重之和
func (p *DAOProposal) TotalVotes() int64 {
	return p.ForVotes + p.AgainstVotes
}
