// Package policy 实现转账前的支出策略校验。
package policy

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	xerrors "AIWeb3-Agents/internal/errors"
)

// Reason 标识策略拒绝的具体原因。
type Reason string

const (
	ReasonDenylisted     Reason = "denylisted"
	ReasonNotAllowlisted Reason = "not_allowlisted"
	ReasonExceedsMax     Reason = "exceeds_max"
)

// Violation 描述一次策略拒绝，作为 POLICY_VIOLATION 错误的 cause。
type Violation struct {
	Reason Reason
	To     string
	Value  *uint256.Int
	Max    *uint256.Int
}

func (v *Violation) Error() string {
	switch v.Reason {
	case ReasonDenylisted:
		return "destination is denylisted"
	case ReasonNotAllowlisted:
		return "destination not in allowlist"
	case ReasonExceedsMax:
		return fmt.Sprintf("value %s exceeds max_value %s", v.Value.Dec(), v.Max.Dec())
	default:
		return string(v.Reason)
	}
}

// ReasonOf 从错误链中提取策略拒绝原因，非策略错误返回空字符串。
func ReasonOf(err error) Reason {
	var v *Violation
	if stdErrors.As(err, &v) {
		return v.Reason
	}
	return ""
}

// SpendPolicy 是不可变的支出策略。MaxValue 为 nil 或 0 表示不限额。
type SpendPolicy struct {
	maxValue  *uint256.Int
	allowlist map[string]struct{}
	denylist  map[string]struct{}
}

// New 创建策略，地址统一转为小写存储。
func New(maxValue *uint256.Int, allowlist, denylist []string) *SpendPolicy {
	p := &SpendPolicy{
		allowlist: toSet(allowlist),
		denylist:  toSet(denylist),
	}
	if maxValue != nil {
		p.maxValue = new(uint256.Int).Set(maxValue)
	}
	return p
}

func toSet(addrs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		normalized := normalize(addr)
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// MaxValue 返回限额的副本，未设置时返回 nil。
func (p *SpendPolicy) MaxValue() *uint256.Int {
	if p == nil || p.maxValue == nil {
		return nil
	}
	return new(uint256.Int).Set(p.maxValue)
}

// Allowlist 返回允许名单（小写）。
func (p *SpendPolicy) Allowlist() []string {
	if p == nil {
		return nil
	}
	return sortedKeys(p.allowlist)
}

// Denylist 返回拒绝名单（小写）。
func (p *SpendPolicy) Denylist() []string {
	if p == nil {
		return nil
	}
	return sortedKeys(p.denylist)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Evaluate 按 拒绝名单 → 允许名单 → 限额 的顺序校验一次转账。
// override 非 nil 时替代策略限额，但不影响名单校验。
func (p *SpendPolicy) Evaluate(to string, value, override *uint256.Int) error {
	if p == nil {
		return nil
	}
	target := normalize(to)

	if _, denied := p.denylist[target]; denied {
		return violation(&Violation{Reason: ReasonDenylisted, To: target})
	}
	if len(p.allowlist) > 0 {
		if _, ok := p.allowlist[target]; !ok {
			return violation(&Violation{Reason: ReasonNotAllowlisted, To: target})
		}
	}

	limit := p.maxValue
	if override != nil {
		limit = override
	}
	if value == nil {
		value = new(uint256.Int)
	}
	if limit != nil && !limit.IsZero() && value.Gt(limit) {
		return violation(&Violation{
			Reason: ReasonExceedsMax,
			To:     target,
			Value:  new(uint256.Int).Set(value),
			Max:    new(uint256.Int).Set(limit),
		})
	}
	return nil
}

func violation(v *Violation) error {
	return xerrors.Wrap(xerrors.CodePolicyViolation, v, "转账被支出策略拒绝",
		xerrors.WithMetadata("reason", string(v.Reason)),
		xerrors.WithMetadata("to", v.To),
	)
}
