package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWorker struct{ Worker }

func TestPoolRoundRobin(t *testing.T) {
	w1, w2, w3 := &stubWorker{}, &stubWorker{}, &stubWorker{}
	p := NewPool([]Worker{w1, w2, w3})

	assert.Same(t, w1, p.Next())
	assert.Same(t, w2, p.Next())
	assert.Same(t, w3, p.Next())
	assert.Same(t, w1, p.Next())
}

func TestPoolRequiresWorkers(t *testing.T) {
	require.Panics(t, func() { NewPool(nil) })
}
