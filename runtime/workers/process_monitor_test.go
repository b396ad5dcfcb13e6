package workers

import (
	"chat-hub/mocks"
	"chat-hub/observability"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shirou/gopsutil/process"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixedConnections int

func (f fixedConnections) Connections() int { return int(f) }

func TestProcessMonitor_Sample_Records_Self(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	presence := mocks.NewMockIPresence(ctrl)
	presence.EXPECT().Counts().Return(2, 1)
	monitoring := observability.NewMonitoringManager(slog.Default())
	monitor := NewProcessMonitor(slog.Default(), monitoring, observability.NewMetrics(), fixedConnections(5), presence, time.Second)

	p, err := process.NewProcess(int32(os.Getpid()))
	req.NoError(err)

	// When one sample is taken
	monitor.Sample(p)

	// Then the latest stats describe this process and the live gauges
	latest := monitoring.GetLatest()
	req.Equal(int32(os.Getpid()), latest.PID)
	req.Equal(5, latest.Connections)
	req.Equal(2, latest.OnlineUsers)
	req.Equal(1, latest.TypingActive)
	req.Positive(latest.Goroutines)
	req.False(latest.SampledAt.IsZero())
}
