package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoOp_AlwaysAbstainsRegardlessOfState(t *testing.T) {
	n := NoOp{}

	action, logProb := n.SelectAction([]float64{1, 2, 3}, 0)
	assert.Equal(t, Hold, action)
	assert.Equal(t, 0.0, logProb)

	action, logProb = n.SelectAction(nil, 0.9)
	assert.Equal(t, Hold, action)
	assert.Equal(t, 0.0, logProb)
}

func TestNoOp_ValueIsAlwaysZero(t *testing.T) {
	n := NoOp{}
	assert.Equal(t, 0.0, n.Value([]float64{1, 2, 3}))
}
