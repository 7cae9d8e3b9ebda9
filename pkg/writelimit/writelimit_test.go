package writelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFirewall struct {
	added   []string
	removed []string
}

func (f *fakeFirewall) Add(ip string)    { f.added = append(f.added, ip) }
func (f *fakeFirewall) Remove(ip string) { f.removed = append(f.removed, ip) }

func TestLimiter_TripsFirewallOnceOverBurstThreshold(t *testing.T) {
	fw := &fakeFirewall{}
	l := New(fw)
	now := time.Now()

	var limited bool
	for i := 0; i < BurstThreshold; i++ {
		limited = l.RecordWrite("user1", "1.2.3.4", now)
	}
	assert.False(t, limited)

	limited = l.RecordWrite("user1", "1.2.3.4", now)
	assert.True(t, limited)
	require.Len(t, fw.added, 1)
	assert.Equal(t, "1.2.3.4", fw.added[0])

	// Does not re-trigger Add on subsequent writes while already limited.
	l.RecordWrite("user1", "1.2.3.4", now)
	assert.Len(t, fw.added, 1)
}

func TestLimiter_DecaySweepClearsLimitAfterEnoughTime(t *testing.T) {
	fw := &fakeFirewall{}
	l := New(fw)
	now := time.Now()

	for i := 0; i < BurstThreshold+1; i++ {
		l.RecordWrite("user1", "1.2.3.4", now)
	}
	require.True(t, l.Limited("user1"))

	// Advance well past enough decay to bring count back under Threshold.
	later := now.Add(5 * time.Second)
	l.RecordWrite("user1", "1.2.3.4", later)

	assert.False(t, l.Limited("user1"))
	require.Len(t, fw.removed, 1)
	assert.Equal(t, "1.2.3.4", fw.removed[0])
}

func TestLimiter_NoDecayBeforeSweepInterval(t *testing.T) {
	fw := &fakeFirewall{}
	l := New(fw)
	now := time.Now()

	l.RecordWrite("user1", "1.2.3.4", now)
	l.RecordWrite("user1", "1.2.3.4", now.Add(time.Second))

	// Count should have grown, not decayed, since < sweepInterval elapsed.
	assert.False(t, l.Limited("user1"))
}

func TestLimiter_Forget(t *testing.T) {
	fw := &fakeFirewall{}
	l := New(fw)
	now := time.Now()
	l.RecordWrite("user1", "1.2.3.4", now)

	l.Forget("user1")
	assert.False(t, l.Limited("user1"))
}
