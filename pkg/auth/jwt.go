// Package auth 連線建立時的參與者身份驗證
//
// 協調器只需要一個參與者 ID（token 的 sub claim），不關心其他欄位。
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSubject token 沒有 sub claim
	ErrNoSubject = errors.New("token has no subject")
	// ErrEmptySubject 簽發時未提供參與者 ID
	ErrEmptySubject = errors.New("empty subject")
)

// JWT HS256 簽發與驗證
type JWT struct {
	secret []byte
}

// New 建立簽發/驗證器
func New(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Verify 驗證 token 並回傳 sub（參與者 ID）
func (j *JWT) Verify(token string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}

// Sign 為參與者簽發 token
func (j *JWT) Sign(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
