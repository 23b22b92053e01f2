package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := New(nil)

	tests := []struct {
		raw  string
		want Category
	}{
		{"idle", Healthy},
		{"mixed", Healthy},
		{"allocated", Healthy},
		{"alloc", Healthy},
		{"completing", Healthy},
		{"down", Problem},
		{"DOWN", Problem},
		{"drain", Problem},
		{"drained", Problem},
		{"draining", Problem},
		{"drained*", Problem},
		{"drng", Problem},
		{"fail", Problem},
		{"failing", Problem},
		{"maint", Problem},
		{"unk", Problem},
		{"unknown", Problem},
		{"IDLE+DRAIN", Problem},
		{"MIXED+DRAIN", Problem},
		{"idle*", Problem}, // not responding forces problem even when idle
		{"allocated*", Problem},
		{"IDLE+NOT_RESPONDING", Problem},
		{"", Healthy},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.raw), "state %q", tt.raw)
	}
}

func TestClassifyCustomTokens(t *testing.T) {
	c := New([]string{"down"})
	assert.Equal(t, Problem, c.Classify("down"))
	assert.Equal(t, Healthy, c.Classify("drained"))
	// marker still dominates a reduced token list
	assert.Equal(t, Problem, c.Classify("drained*"))
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "problem", Problem.String())
	assert.Equal(t, "unreachable", Unreachable.String())
}
