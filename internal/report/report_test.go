package report

import (
	"testing"
	"time"
)

func TestStdoutReporterRateLimits(t *testing.T) {
	r := NewStdoutReporter(time.Hour)
	r.Update(1, 100, time.Second)
	first := r.lastPrint
	r.Update(2, 100, time.Second)
	if !r.lastPrint.Equal(first) {
		t.Errorf("second Update within interval should not have reprinted")
	}
}
