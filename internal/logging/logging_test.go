// SPDX-License-Identifier: Apache 2.0

package logging

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelMapping(t *testing.T) {
	require.Equal(t, slog.LevelDebug, Level(fmt.Errorf("dial: %w", ErrTransient)))
	require.Equal(t, slog.LevelDebug, Level(ErrPeerUnreachable))
	require.Equal(t, slog.LevelWarn, Level(ErrProtocolViolation))
	require.Equal(t, slog.LevelWarn, Level(ErrIntegrity))
	require.Equal(t, slog.LevelError, Level(ErrStorage))
	require.Equal(t, slog.LevelError, Level(fmt.Errorf("unmapped")))
}

func TestSurfacesStatusEvent(t *testing.T) {
	require.False(t, SurfacesStatusEvent(ErrTransient))
	require.False(t, SurfacesStatusEvent(ErrProtocolViolation))
	require.True(t, SurfacesStatusEvent(ErrStorage))
	require.True(t, SurfacesStatusEvent(fmt.Errorf("unmapped")))
}
