package ipmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqWindow(t *testing.T) {
	var w seqWindow
	w.reset(100)

	assert.True(t, w.accept(100), "first expected")
	assert.False(t, w.accept(100), "replay")
	assert.True(t, w.accept(103), "small gap ahead")
	assert.True(t, w.accept(101), "late but unseen")
	assert.False(t, w.accept(101), "late replay")
	assert.True(t, w.accept(102))
	assert.False(t, w.accept(99), "before the first expected")
	assert.False(t, w.accept(103+seqWindowSize+1), "too far ahead")
	assert.True(t, w.accept(103+seqWindowSize))
	assert.False(t, w.accept(103), "fell out of the window")
	assert.False(t, w.accept(0))
}

func TestSeqWindowWrap(t *testing.T) {
	var w seqWindow
	w.reset(0xfffffffe)

	assert.True(t, w.accept(0xfffffffe))
	assert.True(t, w.accept(0xffffffff))
	assert.False(t, w.accept(0))
	assert.True(t, w.accept(1))
	assert.False(t, w.accept(0xffffffff))
}

func TestSeqWindowHalfRangeAway(t *testing.T) {
	var w seqWindow
	w.reset(100)
	require.True(t, w.accept(100))

	assert.False(t, w.accept(100+0x80000000))
	assert.False(t, w.accept(100+0x80000000), "replay")
	assert.False(t, w.accept(100+0x7fffffff))
	assert.False(t, w.accept(50))
	assert.True(t, w.accept(101))
}
