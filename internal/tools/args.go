package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/policy"
)

// Args 为工具的原始参数，提供带类型转换的读取方法。
// 读取方法接受多个候选键，按顺序取第一个存在的值，用于兼容旧参数名。
type Args map[string]any

func invalid(format string, a ...any) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf(format, a...))
}

func (a Args) lookup(keys ...string) (string, any, bool) {
	for _, key := range keys {
		if v, ok := a[key]; ok && v != nil {
			return key, v, true
		}
	}
	if len(keys) == 0 {
		return "", nil, false
	}
	return keys[0], nil, false
}

// String 读取必填字符串参数。
func (a Args) String(keys ...string) (string, error) {
	key, v, ok := a.lookup(keys...)
	if !ok {
		return "", invalid("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", invalid("argument %q must be a non-empty string", key)
	}
	return strings.TrimSpace(s), nil
}

// OptionalString 读取可选字符串参数，不存在时返回空字符串。
func (a Args) OptionalString(keys ...string) (string, error) {
	if _, _, ok := a.lookup(keys...); !ok {
		return "", nil
	}
	return a.String(keys...)
}

// Address 读取必填的 0x 地址参数。
func (a Args) Address(keys ...string) (common.Address, error) {
	key, _, _ := a.lookup(keys...)
	s, err := a.String(keys...)
	if err != nil {
		return common.Address{}, err
	}
	if !policy.IsAddress(s) {
		return common.Address{}, invalid("argument %q is not a valid address: %s", key, s)
	}
	return common.HexToAddress(s), nil
}

// OptionalAddress 读取可选地址参数。
func (a Args) OptionalAddress(keys ...string) (*common.Address, error) {
	if _, _, ok := a.lookup(keys...); !ok {
		return nil, nil
	}
	addr, err := a.Address(keys...)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// Amount 读取必填的 wei 金额，接受十进制/十六进制字符串、JSON 数字与整数。
func (a Args) Amount(keys ...string) (*uint256.Int, error) {
	key, v, ok := a.lookup(keys...)
	if !ok {
		return nil, invalid("missing argument %q", key)
	}
	amount, err := toAmount(v)
	if err != nil {
		return nil, invalid("argument %q: %v", key, err)
	}
	return amount, nil
}

// OptionalAmount 读取可选金额参数。
func (a Args) OptionalAmount(keys ...string) (*uint256.Int, error) {
	if _, _, ok := a.lookup(keys...); !ok {
		return nil, nil
	}
	return a.Amount(keys...)
}

// OptionalUint64 读取可选的非负整数参数。
func (a Args) OptionalUint64(keys ...string) (*uint64, error) {
	key, v, ok := a.lookup(keys...)
	if !ok {
		return nil, nil
	}
	amount, err := toAmount(v)
	if err != nil {
		return nil, invalid("argument %q: %v", key, err)
	}
	if !amount.IsUint64() {
		return nil, invalid("argument %q exceeds uint64", key)
	}
	n := amount.Uint64()
	return &n, nil
}

func toAmount(v any) (*uint256.Int, error) {
	switch n := v.(type) {
	case string:
		return policy.ParseAmount(n)
	case json.Number:
		return policy.ParseAmount(n.String())
	case int:
		return fromInt64(int64(n))
	case int64:
		return fromInt64(n)
	case int32:
		return fromInt64(int64(n))
	case uint64:
		return uint256.NewInt(n), nil
	case uint:
		return uint256.NewInt(uint64(n)), nil
	case float64:
		return fromFloat(n)
	case *big.Int:
		return policy.ParseAmount(n.String())
	case *uint256.Int:
		return new(uint256.Int).Set(n), nil
	default:
		return nil, fmt.Errorf("unsupported amount type %T", v)
	}
}

func fromInt64(n int64) (*uint256.Int, error) {
	if n < 0 {
		return nil, fmt.Errorf("amount must not be negative: %d", n)
	}
	return uint256.NewInt(uint64(n)), nil
}

// fromFloat 只接受可精确表示的非负整数，超出 2^53 的值需以字符串传入。
func fromFloat(f float64) (*uint256.Int, error) {
	if f < 0 || f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("amount must be a non-negative integer: %v", f)
	}
	if f > 1<<53 {
		return nil, fmt.Errorf("amount %s is too large for a JSON number, pass it as a string", strconv.FormatFloat(f, 'f', -1, 64))
	}
	return uint256.NewInt(uint64(f)), nil
}

var sensitiveKeys = []string{"private_key", "privatekey", "secret", "token", "password", "mnemonic"}

// Redact 返回参数副本，敏感键的值被替换。
func Redact(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		lower := strings.ToLower(k)
		redacted := false
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) {
				redacted = true
				break
			}
		}
		switch {
		case redacted:
			out[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = Redact(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
