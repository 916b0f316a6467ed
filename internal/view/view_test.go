package view

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/domain/mock"
	"github.com/dukerupert/ipranges/internal/telemetry"
)

func testFeed() *domain.Feed {
	return &domain.Feed{
		SyncToken:  "1700000000",
		CreateDate: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
		Skipped:    1,
		Prefixes: []domain.Prefix{
			{IPPrefix: "1.0.0.0/24", Region: "us-east-1", Service: "S3", NetworkBorderGroup: "us-east-1"},
			{IPPrefix: "2.0.0.0/24", Region: "eu-west-1", Service: "EC2", NetworkBorderGroup: "eu-west-1"},
			{IPPrefix: "3.0.0.0/24", Region: "us-east-1", Service: "EC2", NetworkBorderGroup: "us-east-1"},
		},
	}
}

func newTestView(t *testing.T, fetcher domain.Fetcher) (*View, *telemetry.FeedMetrics) {
	t.Helper()
	metrics := telemetry.NewFeedMetrics("test", prometheus.NewRegistry())
	v := New(fetcher, Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics,
	})
	return v, metrics
}

func waitSettled(t *testing.T, v *View) {
	t.Helper()
	select {
	case <-v.Settled():
	case <-time.After(5 * time.Second):
		t.Fatal("load did not settle")
	}
}

func TestView_ActivateLoadsFeed(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(testFeed(), nil).Times(1)

	v, metrics := newTestView(t, fetcher)
	assert.Equal(t, StateIdle, v.Status().State)

	require.NoError(t, v.Activate(context.Background()))
	waitSettled(t, v)

	status := v.Status()
	assert.Equal(t, StateReady, status.State)
	assert.NoError(t, status.Err)
	assert.False(t, status.Loading())
	assert.Len(t, v.Records(), 3)
	assert.Equal(t, []string{"eu-west-1", "us-east-1"}, v.Available()[domain.FieldRegion])
	assert.Equal(t, []string{"EC2", "S3"}, v.Available()[domain.FieldService])
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RecordsLoaded))

	// A second activation must not fetch again.
	require.NoError(t, v.Activate(context.Background()))
}

func TestView_PendingWhileFetchOutstanding(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	release := make(chan struct{})
	fetcher.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(context.Context) (*domain.Feed, error) {
		<-release
		return testFeed(), nil
	}).Times(1)

	v, _ := newTestView(t, fetcher)
	require.NoError(t, v.Activate(context.Background()))

	assert.True(t, v.Status().Loading())
	_, err := v.Filtered(domain.Filter{})
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))

	snap := v.Snapshot(domain.Filter{})
	assert.Equal(t, StatePending, snap.Status.State)
	assert.Nil(t, snap.Filtered)

	// Activating again while pending is a no-op.
	require.NoError(t, v.Activate(context.Background()))

	close(release)
	waitSettled(t, v)
	assert.Equal(t, StateReady, v.Status().State)
}

func TestView_TeardownBeforeResolveDiscardsResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	release := make(chan struct{})
	fetcher.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(context.Context) (*domain.Feed, error) {
		// Ignores cancellation on purpose: the result still arrives late.
		<-release
		return testFeed(), nil
	}).Times(1)

	v, metrics := newTestView(t, fetcher)
	require.NoError(t, v.Activate(context.Background()))
	settled := v.Settled()

	v.Teardown()
	close(release)

	select {
	case <-settled:
	case <-time.After(5 * time.Second):
		t.Fatal("load did not settle")
	}

	assert.Nil(t, v.Records(), "record list must remain unset after teardown")
	assert.Nil(t, v.Available())
	assert.Equal(t, StateIdle, v.Status().State)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Discarded))

	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(v.Activate(context.Background())))
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(v.Retry()))
}

func TestView_TeardownCancelsFetchContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(ctx context.Context) (*domain.Feed, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}).Times(1)

	v, _ := newTestView(t, fetcher)
	require.NoError(t, v.Activate(context.Background()))
	v.Teardown()
	waitSettled(t, v)

	assert.Equal(t, StateIdle, v.Status().State, "a cancelled fetch must not be reported as a failure")
}

func TestView_ParentCancelReturnsToIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	gomock.InOrder(
		fetcher.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(ctx context.Context) (*domain.Feed, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		fetcher.EXPECT().Fetch(gomock.Any()).Return(testFeed(), nil),
	)

	v, metrics := newTestView(t, fetcher)
	t.Cleanup(v.Teardown)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, v.Activate(ctx))
	cancel()
	waitSettled(t, v)

	assert.Equal(t, StateIdle, v.Status().State)
	assert.False(t, v.Status().Loading())
	assert.Nil(t, v.Records())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Discarded))

	require.NoError(t, v.Activate(context.Background()))
	waitSettled(t, v)
	assert.Equal(t, StateReady, v.Status().State)
	assert.Len(t, v.Records(), len(testFeed().Prefixes))
}

func TestView_FailureAndManualRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	loadErr := domain.WrapError(errors.New("dial tcp: refused"), domain.EUNAVAILABLE, "feed.fetch", "The address range feed could not be reached.")

	gomock.InOrder(
		fetcher.EXPECT().Fetch(gomock.Any()).Return(nil, loadErr),
		fetcher.EXPECT().Fetch(gomock.Any()).Return(testFeed(), nil),
	)

	v, metrics := newTestView(t, fetcher)

	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(v.Retry()), "retry is only valid after a failure")

	require.NoError(t, v.Activate(context.Background()))
	waitSettled(t, v)

	status := v.Status()
	require.Equal(t, StateFailed, status.State)
	assert.ErrorIs(t, status.Err, loadErr)
	assert.Nil(t, v.Records())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Loads.WithLabelValues("failed")))

	_, err := v.Filtered(domain.Filter{})
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.Equal(t, "The address range feed failed to load.", domain.ErrorMessage(err))

	require.NoError(t, v.Retry())
	waitSettled(t, v)

	assert.Equal(t, StateReady, v.Status().State)
	assert.Len(t, v.Records(), 3)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(v.Retry()))
}

func TestView_NilFeedIsAFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(nil, nil)

	v, _ := newTestView(t, fetcher)
	require.NoError(t, v.Activate(context.Background()))
	waitSettled(t, v)

	assert.Equal(t, StateFailed, v.Status().State)
}

func TestView_FilteredIsMemoized(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(testFeed(), nil)

	v, _ := newTestView(t, fetcher)
	require.NoError(t, v.Activate(context.Background()))
	waitSettled(t, v)

	east := domain.Filter{Region: "us-east-1"}

	first, err := v.Filtered(east)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "1.0.0.0/24", first[0].IPPrefix)
	assert.Equal(t, "3.0.0.0/24", first[1].IPPrefix)
	assert.Equal(t, 1, v.computations)

	second, err := v.Filtered(east)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, v.computations, "same criteria and list must not recompute")

	snap := v.Snapshot(east)
	assert.Equal(t, first, snap.Filtered)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, v.computations)

	_, err = v.Filtered(east.With(domain.FieldService, "EC2"))
	require.NoError(t, err)
	assert.Equal(t, 2, v.computations, "changed criteria must recompute")
}

func TestView_FilteredRecomputesOnNewGeneration(t *testing.T) {
	v, _ := newTestView(t, nil)
	records := testFeed().Prefixes
	criteria := domain.Filter{Service: "EC2"}

	got := v.filtered(1, records, criteria)
	assert.Len(t, got, 2)
	v.filtered(1, records, criteria)
	assert.Equal(t, 1, v.computations)

	updated := append(records[:1:1], domain.Prefix{IPPrefix: "9.0.0.0/8", Region: "sa-east-1", Service: "EC2", NetworkBorderGroup: "sa-east-1"})
	got = v.filtered(2, updated, criteria)
	assert.Equal(t, 2, v.computations)
	require.Len(t, got, 1)
	assert.Equal(t, "9.0.0.0/8", got[0].IPPrefix)

	// A reader holding an older generation computes without polluting the cache.
	v.filtered(1, records, criteria)
	assert.Equal(t, 3, v.computations)
	v.filtered(2, updated, criteria)
	assert.Equal(t, 3, v.computations)
}

func TestView_AvailableIndependentOfCriteria(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(testFeed(), nil)

	v, _ := newTestView(t, fetcher)
	require.NoError(t, v.Activate(context.Background()))
	waitSettled(t, v)

	all := v.Snapshot(domain.Filter{})
	narrowed := v.Snapshot(domain.Filter{Region: "eu-west-1"})

	assert.Equal(t, all.Available, narrowed.Available)
	assert.Len(t, narrowed.Filtered, 1)
}

func TestView_MetaAndLookup(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(testFeed(), nil)

	v, _ := newTestView(t, fetcher)

	_, err := v.Lookup(net.ParseIP("1.0.0.1"))
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))

	require.NoError(t, v.Activate(context.Background()))
	waitSettled(t, v)

	meta := v.Snapshot(domain.Filter{}).Meta
	assert.Equal(t, "1700000000", meta.SyncToken)
	assert.Equal(t, 1, meta.Skipped)
	assert.Equal(t, 3, meta.Networks)
	assert.False(t, meta.LoadedAt.IsZero())

	got, err := v.Lookup(net.ParseIP("1.0.0.1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "S3", got[0].Service)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
}
