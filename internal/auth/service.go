package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"

	"OpenBoBS/pkg/logger"
)

type credential struct {
	digest [sha256.Size]byte
	name   string
}

// Service 校验静态 Bearer Token。
type Service struct {
	enabled     bool
	credentials []credential
	audit       *slog.Logger
}

// NewService 构造身份认证服务实例。未启用时所有请求直接放行。
func NewService(cfg Config) (*Service, error) {
	svc := &Service{enabled: cfg.Enabled, audit: logger.Audit()}
	if !cfg.Enabled {
		return svc, nil
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		digest := sha256.Sum256([]byte(token))
		svc.credentials = append(svc.credentials, credential{
			digest: digest,
			name:   "token-" + hex.EncodeToString(digest[:4]),
		})
	}
	if len(svc.credentials) == 0 {
		return nil, ErrNoTokens
	}
	return svc, nil
}

// Enabled 报告是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// AuthenticateRequest 校验 Authorization 头并返回调用方。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var match *credential
	for i := range s.credentials {
		if subtle.ConstantTimeCompare(digest[:], s.credentials[i].digest[:]) == 1 {
			match = &s.credentials[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: match.name}, nil
}
