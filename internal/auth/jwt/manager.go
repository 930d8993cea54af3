package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// Claims 链接访问令牌声明
//
// 令牌证明持有者已通过某个链接的密码校验；Fingerprint 绑定签发时的密码哈希，
// 链接修改密码后旧令牌不再有效。
type Claims struct {
	LinkID      string `json:"lid"`
	Fingerprint string `json:"pfp"`
	jwt.RegisteredClaims
}

// Manager 访问令牌管理器
type Manager struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewManager 创建访问令牌管理器
func NewManager(secret, issuer string, expiry time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

// Expiry 令牌有效期
func (m *Manager) Expiry() time.Duration {
	return m.expiry
}

// Issue 为链接签发访问令牌
func (m *Manager) Issue(linkID, fingerprint string) (string, error) {
	now := m.now()
	claims := Claims{
		LinkID:      linkID,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   linkID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// ValidateToken 验证令牌并返回声明
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Grants 令牌是否授予对 linkID 的密码访问权
func (m *Manager) Grants(tokenString, linkID, fingerprint string) bool {
	if tokenString == "" {
		return false
	}
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return false
	}
	return claims.LinkID == linkID && claims.Fingerprint == fingerprint
}
