package boot

import (
	"fmt"
	"os"
	"time"
)

const (
	// bootLoopWindow separates a boot loop from an ordinary reboot: a
	// launch more than this long after the previous one resets the count.
	bootLoopWindow = 70 * time.Second
	// biosResetTime is just after the 1980 RTC reset date. A clock before
	// it cannot be trusted to measure the window.
	biosResetTime = 315532900
)

// ReadBootCount returns the number of consecutive quick launches recorded
// in path. A missing or stale file counts as zero.
func ReadBootCount(path string, now time.Time) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var count int
	var stamp int64
	n, _ := fmt.Sscan(string(data), &count, &stamp)
	if n < 1 {
		return 0
	}
	if n == 2 {
		sec := now.Unix()
		if sec > biosResetTime && sec > stamp+int64(bootLoopWindow/time.Second) {
			return 0
		}
	}
	return count
}

// WriteBootCount records count launches, the last one at now.
func WriteBootCount(path string, count int, now time.Time) error {
	data := fmt.Sprintf("%d %d", count, now.Unix())
	if err := writeFileAtomic(path, []byte(data)); err != nil {
		return fmt.Errorf("write boot count: %w", err)
	}
	return nil
}
