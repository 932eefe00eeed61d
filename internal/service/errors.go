package service

import (
	"context"
	"errors"

	"stakedao/internal/infrastructure/database"
)

// Kind 业务错误类别，handler 按类别转换成响应码
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidAmount     Kind = "INVALID_AMOUNT"
	KindInsufficientStake Kind = "INSUFFICIENT_STAKE"
	KindNoRewards         Kind = "NO_REWARDS"
	KindProposalNotActive Kind = "PROPOSAL_NOT_ACTIVE"
	KindProposalNotPassed Kind = "PROPOSAL_NOT_PASSED"
	KindAlreadyVoted      Kind = "ALREADY_VOTED"
	KindExecutionTooEarly Kind = "EXECUTION_TOO_EARLY"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindInvalidProposal   Kind = "INVALID_PROPOSAL"
	KindInvalidArgument   Kind = "INVALID_ARGUMENT"
	KindVotingInProgress  Kind = "VOTING_IN_PROGRESS"
	KindTransient         Kind = "TRANSIENT"
	KindCancelled         Kind = "CANCELLED"
)

// Error 业务错误
// errors.Is 只比较 Kind，所以 errors.Is(err, ErrNoRewards) 对任何 NO_REWARDS 错误都成立
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) ErrorKind() string {
	return string(e.Kind)
}

// ErrorMessage 返回给调用方的提示，不包含底层错误
func (e *Error) ErrorMessage() string {
	return e.Message
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "资源不存在"}
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount, Message: "金额必须大于0"}
	ErrInsufficientStake = &Error{Kind: KindInsufficientStake, Message: "质押数量不足"}
	ErrNoRewards         = &Error{Kind: KindNoRewards, Message: "没有可领取的奖励"}
	ErrProposalNotActive = &Error{Kind: KindProposalNotActive, Message: "提案不在投票期"}
	ErrProposalNotPassed = &Error{Kind: KindProposalNotPassed, Message: "提案未通过"}
	ErrAlreadyVoted      = &Error{Kind: KindAlreadyVoted, Message: "已经投过票"}
	ErrExecutionTooEarly = &Error{Kind: KindExecutionTooEarly, Message: "未到执行时间"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Message: "无权执行此操作"}
	ErrInvalidProposal   = &Error{Kind: KindInvalidProposal, Message: "提案参数不合法"}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument, Message: "参数错误"}
	ErrVotingInProgress  = &Error{Kind: KindVotingInProgress, Message: "投票尚未截止"}
	ErrTransient         = &Error{Kind: KindTransient, Message: "系统繁忙，请稍后重试"}
	ErrCancelled         = &Error{Kind: KindCancelled, Message: "请求已取消"}
)

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// translateError 把存储层的重试耗尽和超时归类为 TRANSIENT，调用方取消归类为 CANCELLED，
// 其他错误原样返回
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Message: ErrCancelled.Message, Err: err}
	}
	if errors.Is(err, database.ErrRetryExhausted) ||
		errors.Is(err, context.DeadlineExceeded) ||
		database.IsTransient(err) {
		return &Error{Kind: KindTransient, Message: ErrTransient.Message, Err: err}
	}
	return err
}
