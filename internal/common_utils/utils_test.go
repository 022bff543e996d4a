package commonutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGoID_ReturnsPositiveID(t *testing.T) {
	id := GoID()
	require.Greater(t, id, int64(0))
}

func TestGoID_DiffersAcrossGoroutines(t *testing.T) {
	mainID := GoID()
	otherID := make(chan int64, 1)
	go func() { otherID <- GoID() }()
	require.NotEqual(t, mainID, <-otherID)
}
