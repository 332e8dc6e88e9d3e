package alert

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/metrics"
	"aegisflux/agents/hids/internal/model"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := &fakeRecorder{}
	fwd := &fakeForwarder{}
	sink := NewSink(logging.Discard(), rec, WithForwarder(fwd))
	d := NewDispatcher(sink, 10, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Emit(testAlert(model.KindFileCreated, fmt.Sprintf("File created: /f%d", i), false)))
	}

	assert.Eventually(t, func() bool { return rec.count() == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	<-d.Done()

	require.Len(t, fwd.alerts, 5)
	for i, a := range fwd.alerts {
		assert.Equal(t, fmt.Sprintf("File created: /f%d", i), a.Message)
	}
}

func TestDispatcher_RefusesAfterStop(t *testing.T) {
	rec := &fakeRecorder{}
	m := metrics.NewMetrics()
	d := NewDispatcher(NewSink(logging.Discard(), rec), 10, logging.Discard(), m)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	cancel()
	<-d.Done()

	err := d.Emit(testAlert(model.KindThreat, "late", false))
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsDropped))
}

func TestDispatcher_QueuedAlertsRecordedOnlyAtShutdown(t *testing.T) {
	rec := &fakeRecorder{}
	snd := &fakeSounder{}
	fwd := &fakeForwarder{}
	d := NewDispatcher(NewSink(logging.Discard(), rec, WithSounder(snd), WithForwarder(fwd)), 10, logging.Discard(), nil)

	// queued before the consumer ever runs
	require.NoError(t, d.Emit(testAlert(model.KindFileDeleted, "a", true)))
	require.NoError(t, d.Emit(testAlert(model.KindFileDeleted, "b", true)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 0, snd.plays)
	assert.Empty(t, fwd.alerts)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_OverflowFallsBackToDurableLog(t *testing.T) {
	rec := &fakeRecorder{}
	fwd := &fakeForwarder{}
	m := metrics.NewMetrics()
	d := NewDispatcher(NewSink(logging.Discard(), rec, WithForwarder(fwd)), 1, logging.Discard(), m)

	require.NoError(t, d.Emit(testAlert(model.KindPortScan, "queued", false)))
	require.NoError(t, d.Emit(testAlert(model.KindPortScan, "overflow", false)))

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, "overflow", rec.lines[0].message)
	assert.Empty(t, fwd.alerts)
	assert.Equal(t, 1, d.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsOverflowed))
}
