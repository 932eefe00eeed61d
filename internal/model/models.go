package model

// MigrateModels 需要自动迁移的表
var MigrateModels = []interface{}{
	&StakingAccount{},
	&StakingTransaction{},
	&DAOProposal{},
	&DAOVote{},
	&OutboxMessage{},
}
