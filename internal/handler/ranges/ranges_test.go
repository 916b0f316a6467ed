package ranges

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/domain/mock"
	"github.com/dukerupert/ipranges/internal/handler"
	"github.com/dukerupert/ipranges/internal/telemetry"
	"github.com/dukerupert/ipranges/internal/view"
	"github.com/dukerupert/ipranges/web"
)

func testFeed() *domain.Feed {
	return &domain.Feed{
		SyncToken:  "1700000000",
		CreateDate: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
		Prefixes: []domain.Prefix{
			{IPPrefix: "1.0.0.0/24", Region: "us-east-1", Service: "S3", NetworkBorderGroup: "us-east-1"},
			{IPPrefix: "2.0.0.0/24", Region: "eu-west-1", Service: "EC2", NetworkBorderGroup: "eu-west-1"},
			{IPPrefix: "3.0.0.0/24", Region: "us-east-1", Service: "EC2", NetworkBorderGroup: "us-east-1"},
		},
	}
}

func newView(t *testing.T, fetcher domain.Fetcher) *view.View {
	t.Helper()
	return view.New(fetcher, view.Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: telemetry.NewFeedMetrics("test", prometheus.NewRegistry()),
	})
}

func activate(t *testing.T, v *view.View) {
	t.Helper()
	require.NoError(t, v.Activate(context.Background()))
	t.Cleanup(v.Teardown)
}

func settle(t *testing.T, v *view.View) {
	t.Helper()
	select {
	case <-v.Settled():
	case <-time.After(5 * time.Second):
		t.Fatal("load did not settle")
	}
}

func readyView(t *testing.T) *view.View {
	t.Helper()
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(testFeed(), nil)

	v := newView(t, fetcher)
	activate(t, v)
	settle(t, v)
	return v
}

func failedView(t *testing.T, fetcher *mock.MockFetcher) *view.View {
	t.Helper()
	fetcher.EXPECT().Fetch(gomock.Any()).Return(nil,
		domain.WrapError(errors.New("dial tcp: refused"), domain.EUNAVAILABLE, "feed.fetch", "The address range feed could not be reached."))

	v := newView(t, fetcher)
	activate(t, v)
	settle(t, v)
	return v
}

func pendingView(t *testing.T) *view.View {
	t.Helper()
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	started := make(chan struct{})
	fetcher.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(ctx context.Context) (*domain.Feed, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	v := newView(t, fetcher)
	activate(t, v)
	<-started
	return v
}

func renderer(t *testing.T) *handler.Renderer {
	t.Helper()
	r, err := handler.NewRenderer(web.Templates())
	require.NoError(t, err)
	return r
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestPageHandler_Ready(t *testing.T) {
	h := NewPageHandler(readyView(t), renderer(t))

	rec := get(h, "/?region=us-east-1")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "1.0.0.0/24 - <em>S3 - us-east-1 - us-east-1</em>")
	assert.Contains(t, body, "3.0.0.0/24 - <em>EC2 - us-east-1 - us-east-1</em>")
	assert.NotContains(t, body, "2.0.0.0/24 -")
	assert.Contains(t, body, "2 of 3 prefixes")
	assert.Contains(t, body, "Copy ip ranges")
	assert.Contains(t, body, ">1.0.0.0/24\n3.0.0.0/24</textarea>")
	assert.Contains(t, body, `<option value="us-east-1" selected>us-east-1</option>`)
	// Options come from the full list, not the filtered one.
	assert.Contains(t, body, `<option value="eu-west-1">eu-west-1</option>`)
	assert.Contains(t, body, "Please select one")
	assert.NotContains(t, body, "Loading...")
	assert.NotContains(t, body, `http-equiv="refresh"`)
}

func TestPageHandler_SelectorOrder(t *testing.T) {
	h := NewPageHandler(readyView(t), renderer(t))
	body := get(h, "/").Body.String()

	nbg := strings.Index(body, `name="network_border_group"`)
	service := strings.Index(body, `name="service"`)
	region := strings.Index(body, `name="region"`)

	require.True(t, nbg >= 0 && service >= 0 && region >= 0)
	assert.Less(t, nbg, service)
	assert.Less(t, service, region)
}

func TestPageHandler_UnknownValueMatchesNothing(t *testing.T) {
	h := NewPageHandler(readyView(t), renderer(t))

	rec := get(h, "/?service=NOPE")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "0 of 3 prefixes")
	assert.Contains(t, body, `<option value="NOPE" selected>NOPE</option>`)
}

func TestPageHandler_Pending(t *testing.T) {
	h := NewPageHandler(pendingView(t), renderer(t))

	rec := get(h, "/")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Loading...")
	assert.Contains(t, body, `http-equiv="refresh"`)
	assert.NotContains(t, body, "Copy ip ranges")
}

func TestPageHandler_Failed(t *testing.T) {
	ctrl := gomock.NewController(t)
	v := failedView(t, mock.NewMockFetcher(ctrl))
	h := NewPageHandler(v, renderer(t))

	rec := get(h, "/?service=EC2")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "The address range feed could not be reached.")
	assert.Contains(t, body, `action="/retry?service=EC2"`)
	assert.NotContains(t, body, "Loading...")
	assert.NotContains(t, body, "dial tcp")
}

func TestTextHandler(t *testing.T) {
	h := NewTextHandler(readyView(t))

	rec := get(h, "/prefixes.txt?service=EC2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2.0.0.0/24\n3.0.0.0/24", rec.Body.String())

	rec = get(h, "/prefixes.txt")
	assert.Equal(t, "1.0.0.0/24\n2.0.0.0/24\n3.0.0.0/24", rec.Body.String())
}

func TestTextHandler_Pending(t *testing.T) {
	rec := get(NewTextHandler(pendingView(t)), "/prefixes.txt")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAPIHandler(t *testing.T) {
	h := NewAPIHandler(readyView(t))

	rec := get(h, "/api/prefixes?region=eu-west-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, domain.Filter{Region: "eu-west-1"}, resp.Criteria)
	require.Len(t, resp.Prefixes, 1)
	assert.Equal(t, "2.0.0.0/24", resp.Prefixes[0].IPPrefix)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, []string{"eu-west-1", "us-east-1"}, resp.Available[domain.FieldRegion])
	assert.Equal(t, "1700000000", resp.SyncToken)
	require.NotNil(t, resp.CreateDate)
}

func TestAPIHandler_Failed(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewAPIHandler(failedView(t, mock.NewMockFetcher(ctrl)))

	rec := get(h, "/api/prefixes")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, domain.EUNAVAILABLE, body.Error.Code)
	assert.Equal(t, "The address range feed could not be reached.", body.Error.Message)
}

func TestReadyOrError_AttributesOp(t *testing.T) {
	failed := view.Status{State: view.StateFailed, Err: domain.Unavailable("feed.fetch", "The address range feed could not be reached.")}

	err := readyOrError(httptest.NewRecorder(), "ranges.api", failed)
	assert.Equal(t, "ranges.api", domain.ErrorOp(err))
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.Equal(t, "The address range feed could not be reached.", domain.ErrorMessage(err))

	err = readyOrError(httptest.NewRecorder(), "ranges.text", view.Status{State: view.StateFailed})
	assert.Equal(t, "ranges.text", domain.ErrorOp(err))

	rec := httptest.NewRecorder()
	err = readyOrError(rec, "ranges.api", view.Status{State: view.StatePending})
	assert.Equal(t, "ranges.api", domain.ErrorOp(err))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.NoError(t, readyOrError(httptest.NewRecorder(), "ranges.api", view.Status{State: view.StateReady}))
}

func TestRetryHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	v := failedView(t, fetcher)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(testFeed(), nil)

	h := NewRetryHandler(v)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry?region=us-east-1", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/?region=us-east-1", rec.Header().Get("Location"))

	settle(t, v)
	assert.Equal(t, view.StateReady, v.Status().State)

	t.Run("conflict redirects browsers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry", nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("conflict is reported to JSON clients", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/retry", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestLookupHandler(t *testing.T) {
	h := NewLookupHandler(readyView(t), renderer(t))

	t.Run("match", func(t *testing.T) {
		rec := get(h, "/lookup?ip=3.0.0.9")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "3.0.0.0/24 - <em>EC2 - us-east-1 - us-east-1</em>")
	})

	t.Run("no match", func(t *testing.T) {
		rec := get(h, "/lookup?ip=8.8.8.8")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "8.8.8.8 is not in any published range.")
	})

	t.Run("invalid address", func(t *testing.T) {
		rec := get(h, "/lookup?ip=banana")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "is not an IP address")
	})

	t.Run("defaults to client address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/lookup", nil)
		req.RemoteAddr = "1.0.0.77:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "1.0.0.0/24 - <em>S3")
	})
}

func TestLookupHandler_Pending(t *testing.T) {
	rec := get(NewLookupHandler(pendingView(t), renderer(t)), "/lookup?ip=1.0.0.1")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Loading...")
}

func TestHealthHandler(t *testing.T) {
	rec := get(NewHealthHandler(pendingView(t)), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "pending", body["feed"])
}

func TestBuildSelectors(t *testing.T) {
	available := domain.AvailableValues{
		domain.FieldRegion:             {"eu-west-1", "us-east-1"},
		domain.FieldService:            {"EC2"},
		domain.FieldNetworkBorderGroup: {},
	}

	got := buildSelectors(available, domain.Filter{Region: "us-east-1"})
	require.Len(t, got, 3)

	assert.Equal(t, "network_border_group", got[0].Name)
	assert.Empty(t, got[0].Options)

	assert.Equal(t, "region", got[2].Name)
	assert.Equal(t, []Option{{Value: "eu-west-1"}, {Value: "us-east-1", Selected: true}}, got[2].Options)
}
