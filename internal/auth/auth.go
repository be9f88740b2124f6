// Package auth 为 HTTP 门面提供基于 API Key 的身份认证与权限检查。
// 未配置任何 Key 时认证关闭，所有请求直接放行。
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"AIWeb3-Agents/pkg/logger"
)

// 认证子系统返回的通用错误。
var (
	ErrMissingToken     = errors.New("missing api key")
	ErrInvalidToken     = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")
)

// 权限名称。"*" 表示全部权限。
const (
	PermissionRead   = "tools:read"
	PermissionInvoke = "tools:invoke"
	PermissionAll    = "*"
)

// KeyConfig 描述一个 API Key。Key 与 SHA256 二选一，推荐只在配置中保存摘要。
type KeyConfig struct {
	Name        string
	Key         string
	SHA256      string
	Permissions []string
}

// Subject 表示通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string
}

// HasPermission 判断主体是否拥有指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.Permissions {
		if p == PermissionAll || p == permission {
			return true
		}
	}
	return false
}

// Authorize 要求主体拥有全部给定权限。
func (s *Subject) Authorize(perms ...string) error {
	for _, p := range perms {
		if !s.HasPermission(p) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, p)
		}
	}
	return nil
}

type apiKey struct {
	subject Subject
	digest  [sha256.Size]byte
}

// Service 校验请求携带的 API Key。
type Service struct {
	keys []apiKey
}

// NewService 根据配置构造认证服务。keys 为空时返回的服务处于关闭状态。
func NewService(keys []KeyConfig) (*Service, error) {
	svc := &Service{}
	seen := make(map[string]struct{}, len(keys))
	for i, cfg := range keys {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			name = fmt.Sprintf("key-%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate api key name %q", name)
		}
		seen[name] = struct{}{}

		digest, err := keyDigest(cfg)
		if err != nil {
			return nil, fmt.Errorf("api key %q: %w", name, err)
		}
		perms := cfg.Permissions
		if len(perms) == 0 {
			perms = []string{PermissionAll}
		}
		svc.keys = append(svc.keys, apiKey{
			subject: Subject{Name: name, Permissions: append([]string(nil), perms...)},
			digest:  digest,
		})
	}
	return svc, nil
}

func keyDigest(cfg KeyConfig) ([sha256.Size]byte, error) {
	var digest [sha256.Size]byte
	key := strings.TrimSpace(cfg.Key)
	sum := strings.TrimSpace(cfg.SHA256)
	switch {
	case key != "" && sum != "":
		return digest, errors.New("set either key or sha256, not both")
	case key != "":
		return sha256.Sum256([]byte(key)), nil
	case sum != "":
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(sum), "0x"))
		if err != nil || len(raw) != sha256.Size {
			return digest, errors.New("sha256 must be 64 hex characters")
		}
		copy(digest[:], raw)
		return digest, nil
	default:
		return digest, errors.New("key or sha256 is required")
	}
}

// Enabled 表示是否配置了至少一个 Key。
func (s *Service) Enabled() bool {
	return s != nil && len(s.keys) > 0
}

// AuthenticateRequest 从 Authorization: Bearer 头或 X-API-Key 头中取出 Key 并校验。
func (s *Service) AuthenticateRequest(authorization, apiKeyHeader string) (*Subject, error) {
	token := strings.TrimSpace(apiKeyHeader)
	if token == "" {
		parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = strings.TrimSpace(parts[1])
		}
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	digest := sha256.Sum256([]byte(token))
	var match *apiKey
	for i := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:]) == 1 {
			match = &s.keys[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	subject := match.subject
	return &subject, nil
}

// AuditDenied 将拒绝访问的请求写入审计日志。
func (s *Service) AuditDenied(method, path string, status int, err error) {
	logger.Audit().Warn("access_denied",
		slog.String("path", path),
		slog.String("method", method),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
}
