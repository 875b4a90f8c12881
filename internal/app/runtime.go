package app

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const testModeEnv = "ORDERFLOW_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

// detectTestMode reads the ORDERFLOW_TEST_MODE flag once.
func detectTestMode() {
	switch strings.ToLower(os.Getenv(testModeEnv)) {
	case "1", "true":
		testModeFlag.Store(true)
	default:
		testModeFlag.Store(false)
	}
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}
