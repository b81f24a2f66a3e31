package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock_Advance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMock(start)

	assert.Equal(t, start, c.Now())
	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, c.Since(start))
}

func TestMockTicker(t *testing.T) {
	c := NewMock(time.Unix(0, 0))
	tk := c.NewTicker(10 * time.Millisecond)

	c.Advance(5 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(5 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestReal(t *testing.T) {
	var c Clock = Real{}
	before := c.Now()
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	<-tk.C()
	assert.True(t, c.Since(before) > 0)
}
