package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeTooMany      = 429
	CodeCancelled    = 499
	CodeServerError  = 500
	CodeServiceBusy  = 503
)

const (
	CodeInvalidAmount     = 1001
	CodeInsufficientStake = 1002
	CodeNoRewards         = 1003
	CodeProposalNotActive = 1004
	CodeProposalNotPassed = 1005
	CodeAlreadyVoted      = 1006
	CodeExecutionTooEarly = 1007
	CodeInvalidProposal   = 1008
	CodeVotingInProgress  = 1009
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// KindError 带类别的业务错误
type KindError interface {
	error
	ErrorKind() string
	ErrorMessage() string
}

// statusClientClosedRequest 客户端在响应前关闭了连接
const statusClientClosedRequest = 499

type kindMapping struct {
	httpStatus int
	code       int
}

// 业务错误统一返回 HTTP 200，鉴权失败和服务繁忙使用对应的 HTTP 状态码
var kindMappings = map[string]kindMapping{
	"NOT_FOUND":           {http.StatusOK, CodeNotFound},
	"INVALID_AMOUNT":      {http.StatusOK, CodeInvalidAmount},
	"INSUFFICIENT_STAKE":  {http.StatusOK, CodeInsufficientStake},
	"NO_REWARDS":          {http.StatusOK, CodeNoRewards},
	"PROPOSAL_NOT_ACTIVE": {http.StatusOK, CodeProposalNotActive},
	"PROPOSAL_NOT_PASSED": {http.StatusOK, CodeProposalNotPassed},
	"ALREADY_VOTED":       {http.StatusOK, CodeAlreadyVoted},
	"EXECUTION_TOO_EARLY": {http.StatusOK, CodeExecutionTooEarly},
	"INVALID_PROPOSAL":    {http.StatusOK, CodeInvalidProposal},
	"INVALID_ARGUMENT":    {http.StatusOK, CodeParamError},
	"VOTING_IN_PROGRESS":  {http.StatusOK, CodeVotingInProgress},
	"UNAUTHORIZED":        {http.StatusUnauthorized, CodeUnauthorized},
	"TRANSIENT":           {http.StatusServiceUnavailable, CodeServiceBusy},
	"CANCELLED":           {statusClientClosedRequest, CodeCancelled},
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ErrorWithStatus(c *gin.Context, httpStatus, code int, message string) {
	c.AbortWithStatusJSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// FromError 按错误类别写响应，未识别的错误记日志后返回 500
func FromError(c *gin.Context, err error) {
	var ke KindError
	if errors.As(err, &ke) {
		if m, ok := kindMappings[ke.ErrorKind()]; ok {
			c.JSON(m.httpStatus, Response{Code: m.code, Message: ke.ErrorMessage()})
			return
		}
	}

	zap.L().Error("请求处理失败",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	ServerError(c, "服务内部错误")
}
