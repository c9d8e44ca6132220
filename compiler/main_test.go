package compiler

import (
	"testing"

	"go.uber.org/goleak"
)

// 并发编译结束后不应残留 goroutine
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
