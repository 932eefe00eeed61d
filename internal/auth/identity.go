// Package auth 定义调用方身份，以及从 JWT 解析身份的校验器。
package auth

import "context"

const CapabilityAdmin = "admin"

// Identity 已认证的调用方，账本和治理逻辑信任这里的字段
type Identity struct {
	UserID       int64    `json:"user_id"`
	Reputation   int64    `json:"reputation"`
	Capabilities []string `json:"capabilities"`
}

func (i Identity) HasCapability(capability string) bool {
	for _, c := range i.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (i Identity) IsAdmin() bool {
	return i.HasCapability(CapabilityAdmin)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
