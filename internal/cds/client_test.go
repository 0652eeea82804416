package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDataset = "reanalysis-era5-single-levels-monthly-means"
	testKey     = "00000000-aaaa-bbbb-cccc-111111111111"
)

var payload = []byte("CDF\x01 synthetic payload")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCDS serves the retrieve API for a single job which reports the given
// statuses in turn, the last one repeating.
type fakeCDS struct {
	t         *testing.T
	statuses  []string
	polls     atomic.Int32
	submitted atomic.Bool
	inputs    map[string]any
	failure   string
}

func (f *fakeCDS) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/retrieve/v1/processes/{dataset}/execution", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"title":"Unauthorized","detail":"authentication failed"}`))
			return
		}
		assert.Equal(f.t, testDataset, r.PathValue("dataset"))
		var body struct {
			Inputs map[string]any `json:"inputs"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.inputs = body.Inputs
		f.submitted.Store(true)
		json.NewEncoder(w).Encode(job{JobID: "job-1", Status: statusAccepted})
	})
	mux.HandleFunc("GET /api/retrieve/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1))
		status := f.statuses[min(n, len(f.statuses))-1]
		json.NewEncoder(w).Encode(job{JobID: "job-1", Status: status})
	})
	mux.HandleFunc("GET /api/retrieve/v1/jobs/job-1/results", func(w http.ResponseWriter, r *http.Request) {
		if f.failure != "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"title":"The job has failed","detail":"` + f.failure + `"}`))
			return
		}
		w.Write([]byte(`{"asset":{"value":{"href":"/download/job-1.nc","file:size":23}}}`))
	})
	mux.HandleFunc("GET /download/job-1.nc", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	return mux
}

// advance keeps moving the clock past each poll interval until ctx is done.
func advance(ctx context.Context, clock *clockwork.FakeClock) {
	for clock.BlockUntilContext(ctx, 1) == nil {
		clock.Advance(maxPollInterval)
	}
}

func retrieve(t *testing.T, f *fakeCDS, key string) ([]byte, error) {
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClock()
	c, err := NewClient(testLogger(), srv.URL+"/api", key, clock)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go advance(ctx, clock)

	var buf bytes.Buffer
	n, err := c.Retrieve(ctx, testDataset, map[string]any{
		"product_type": []string{"monthly_averaged_reanalysis"},
		"variable":     "2m_temperature",
		"year":         []string{"2022", "2023"},
		"month":        "07",
		"time":         "00:00",
		"format":       "netcdf",
	}, &buf)
	if err != nil {
		return nil, err
	}
	assert.Equal(t, int64(buf.Len()), n)
	return buf.Bytes(), nil
}

func TestClient_Retrieve(t *testing.T) {
	f := &fakeCDS{t: t, statuses: []string{statusRunning, statusRunning, statusSuccessful}}
	data, err := retrieve(t, f, testKey)
	require.NoError(t, err)

	assert.Equal(t, payload, data)
	assert.Equal(t, int32(3), f.polls.Load())
	assert.Equal(t, "2m_temperature", f.inputs["variable"])
	assert.Equal(t, []any{"2022", "2023"}, f.inputs["year"])
}

func TestClient_RetrieveJobFailed(t *testing.T) {
	f := &fakeCDS{t: t, statuses: []string{statusRunning, statusFailed}, failure: "variable not available"}
	_, err := retrieve(t, f, testKey)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "job-1", jobErr.JobID)
	assert.Equal(t, statusFailed, jobErr.Status)
	assert.Equal(t, "The job has failed: variable not available", jobErr.Detail)
}

func TestClient_RetrieveUnauthorized(t *testing.T) {
	f := &fakeCDS{t: t, statuses: []string{statusSuccessful}}
	_, err := retrieve(t, f, "wrong-key")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Unauthorized: authentication failed", apiErr.Message)
	assert.Zero(t, f.polls.Load())
}

func TestClient_RetrieveCanceled(t *testing.T) {
	f := &fakeCDS{t: t, statuses: []string{statusRunning}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c, err := NewClient(testLogger(), srv.URL+"/api", testKey, clockwork.NewFakeClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Retrieve(ctx, testDataset, map[string]any{}, io.Discard)
		done <- err
	}()
	// The clock never moves, so the client sits in its first poll wait.
	require.Eventually(t, func() bool { return f.submitted.Load() }, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(testLogger(), DefaultURL, "", clockwork.NewRealClock())
	assert.Error(t, err)
}
