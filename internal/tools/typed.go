package tools

import (
	"context"
)

// Typed 将参数解码与执行分离：decode 把原始参数转成工具自己的参数结构，
// 解码失败即返回 INVALID_ARGUMENT，run 只处理已校验的类型化参数。
func Typed[T any](decode func(Args) (T, error), run func(context.Context, T) (any, error)) Handler {
	return HandlerFunc(func(ctx context.Context, args Args) (any, error) {
		in, err := decode(args)
		if err != nil {
			return nil, err
		}
		return run(ctx, in)
	})
}
