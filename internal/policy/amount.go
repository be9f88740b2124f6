package policy

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ParseAmount 解析十进制或 0x 前缀的十六进制金额（单位 wei），
// 拒绝负数与超出 2^256-1 的值。
func ParseAmount(raw string) (*uint256.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("金额不能为空")
	}
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("金额格式无效: %q", raw)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("金额不能为负数: %q", raw)
	}
	v, overflow := uint256.FromBig(n)
	if overflow {
		return nil, fmt.Errorf("金额超出 uint256 范围: %q", raw)
	}
	return v, nil
}

// ParseAddresses 校验并返回地址列表，空白项被忽略。
func ParseAddresses(items []string) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		addr := strings.TrimSpace(item)
		if addr == "" {
			continue
		}
		if !IsAddress(addr) {
			return nil, fmt.Errorf("地址格式无效: %q", item)
		}
		out = append(out, strings.ToLower(addr))
	}
	return out, nil
}

// IsAddress 判断字符串是否为 0x 开头的 40 位十六进制地址。
func IsAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(strings.ToLower(s), "0x") && common.IsHexAddress(s)
}
