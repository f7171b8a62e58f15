package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIDUnique(t *testing.T) {
	const n = 10000
	ids := make(map[int64]struct{}, n)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n/4; i++ {
				id := NextID()
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n, "并发生成的ID必须全局唯一")
}

func TestGenerateEntryNo(t *testing.T) {
	no1 := GenerateEntryNo()
	no2 := GenerateEntryNo()

	assert.True(t, strings.HasPrefix(no1, "LED"))
	assert.NotEqual(t, no1, no2)
	assert.LessOrEqual(t, len(no1), 64)
}

func TestGenerateReferralCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		code := GenerateReferralCode()
		assert.True(t, strings.HasPrefix(code, "SH"))
		assert.LessOrEqual(t, len(code), 32, "推荐码必须放得进 varchar(32)")
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}
