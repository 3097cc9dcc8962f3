package collab

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lk2023060901/pairchat-go/internal/chat"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// IdentityProvider 将传输层携带的凭证解析为用户身份。
type IdentityProvider interface {
	Resolve(ctx context.Context, credential string) (chat.UserID, error)
}

// JWTIdentity 基于 HS256 JWT 的身份解析实现。
//
// 说明：
//   - 用户 ID 取自 sub 声明（十进制字符串）或 uid 数值声明；
//   - 过期与签名校验由 jwt 库完成，允许少量时钟偏差。
type JWTIdentity struct {
	secret []byte
	leeway time.Duration
}

// NewJWTIdentity 创建 JWT 身份解析器。
func NewJWTIdentity(secret []byte, leeway time.Duration) *JWTIdentity {
	return &JWTIdentity{
		secret: secret,
		leeway: leeway,
	}
}

var _ IdentityProvider = (*JWTIdentity)(nil)

// Resolve 校验并解析凭证，返回其中声明的用户 ID。
func (p *JWTIdentity) Resolve(ctx context.Context, credential string) (chat.UserID, error) {
	if credential == "" {
		return 0, merr.WrapErrParameterMissing("credential")
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method %q", t.Method.Alg())
		}
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(p.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, merr.WrapErrIdentityInvalid(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, merr.WrapErrIdentityInvalid(errors.New("unexpected claims type"))
	}

	if uid, ok := claims["uid"]; ok {
		if f, ok := uid.(float64); ok && f > 0 {
			return chat.UserID(f), nil
		}
	}
	if sub, ok := claims["sub"].(string); ok {
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil || id <= 0 {
			return 0, merr.WrapErrIdentityInvalid(errors.Newf("invalid subject %q", sub))
		}
		return id, nil
	}
	return 0, merr.WrapErrIdentityInvalid(errors.New("no user id claim"))
}

// Sign 为指定用户签发凭证，主要用于测试与本地调试。
func (p *JWTIdentity) Sign(user chat.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.FormatInt(user, 10),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString(p.secret)
}

// StaticIdentity 为静态映射的身份解析实现，用于测试或单机部署。
type StaticIdentity map[string]chat.UserID

var _ IdentityProvider = (StaticIdentity)(nil)

func (m StaticIdentity) Resolve(ctx context.Context, credential string) (chat.UserID, error) {
	id, ok := m[credential]
	if !ok {
		return 0, merr.WrapErrIdentityInvalid(errors.New("unknown credential"))
	}
	return id, nil
}
