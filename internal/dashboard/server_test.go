package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"photonic/internal/guider"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStateEndpointReflectsPushedSteps(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	port := freePort(t)
	s := New(port, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	time.Sleep(50 * time.Millisecond)

	s.SetState("Guiding", "none")
	s.PushGuideStep(guider.GuideStepInfo{FrameNumber: 3, AvgDistance: 0.4})

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/state", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data Data
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	require.Equal(t, "Guiding", data.GuiderState)
	require.Len(t, data.RecentSteps, 1)
	require.Equal(t, 3, data.RecentSteps[0].FrameNumber)
}

func TestRecentStepsRingBufferCaps(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := New(freePort(t), log)

	for i := 0; i < maxRecentSteps+10; i++ {
		s.PushGuideStep(guider.GuideStepInfo{FrameNumber: i})
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Len(t, s.recent, maxRecentSteps)
	require.Equal(t, maxRecentSteps+9, s.recent[len(s.recent)-1].FrameNumber)
}
