// SPDX-License-Identifier: Apache 2.0

package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuarantineTripsAfterThreshold(t *testing.T) {
	q := NewQuarantine()
	require.False(t, q.Offense("peer-1"))
	require.False(t, q.Offense("peer-1"))
	require.True(t, q.Offense("peer-1"))
	require.True(t, q.IsQuarantined("peer-1"))
}

func TestQuarantineIsPerKey(t *testing.T) {
	q := NewQuarantine()
	q.Offense("peer-1")
	q.Offense("peer-1")
	q.Offense("peer-1")
	require.True(t, q.IsQuarantined("peer-1"))
	require.False(t, q.IsQuarantined("peer-2"))
}

func TestIsQuarantinedFalseWithoutOffenses(t *testing.T) {
	q := NewQuarantine()
	require.False(t, q.IsQuarantined("peer-1"))
}
