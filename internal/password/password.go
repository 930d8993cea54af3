// Package password 提供链接访问密码的哈希与校验
package password

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword 密码为空
var ErrEmptyPassword = errors.New("password must not be empty")

// Hash 生成 bcrypt 哈希
func Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify 校验候选密码，哈希格式错误、为空或不匹配都视为不匹配
func Verify(candidate, storedHash string) bool {
	if candidate == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate)) == nil
}

// Fingerprint 哈希的短指纹，写入访问令牌，密码修改后旧令牌随之失效
func Fingerprint(storedHash string) string {
	sum := sha256.Sum256([]byte(storedHash))
	return hex.EncodeToString(sum[:8])
}
