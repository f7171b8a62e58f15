package service

import (
	"errors"
	"time"
)

// ErrConcurrencyConflict 瞬时冲突，调用方可带退避重试
var ErrConcurrencyConflict = errors.New("并发冲突，请稍后重试")

// withBackoff 对瞬时冲突做有界重试
// 只重试 ErrConcurrencyConflict，校验类错误原样透出；
// 重试次数耗尽后返回最后一次的错误，不会静默吞掉状态转换
func withBackoff(maxRetry int, fn func() error) error {
	if maxRetry <= 0 {
		maxRetry = 1
	}

	var err error
	for i := 0; i < maxRetry; i++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}
