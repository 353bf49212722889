package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLedger(t *testing.T) {
	t.Run("marked ids are owned", func(t *testing.T) {
		l := NewLedger(5 * time.Second)

		l.MarkOwned("m1")
		assert.True(t, l.IsOwned("m1"))
		assert.False(t, l.IsOwned("m2"))
	})

	t.Run("entries expire after the window", func(t *testing.T) {
		now := time.Now()
		l := NewLedger(5 * time.Second)
		l.nowFunc = func() time.Time { return now }

		l.MarkOwned("m1")
		assert.True(t, l.IsOwned("m1"))

		l.nowFunc = func() time.Time { return now.Add(6 * time.Second) }
		assert.False(t, l.IsOwned("m1"), "entries past the window must expire")
	})

	t.Run("remarking refreshes the deadline", func(t *testing.T) {
		now := time.Now()
		l := NewLedger(5 * time.Second)
		l.nowFunc = func() time.Time { return now }

		l.MarkOwned("m1")

		l.nowFunc = func() time.Time { return now.Add(4 * time.Second) }
		l.MarkOwned("m1")

		l.nowFunc = func() time.Time { return now.Add(8 * time.Second) }
		assert.True(t, l.IsOwned("m1"))
	})
}
