package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	r := New()
	start := time.Now()
	r.Observe("image-upgrade", start, nil)
	r.Observe("image-upgrade", start, errors.New("boom"))
	r.Observe("image-upgrade", start, nil)
	r.SetUpgraded("qanet", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("image-upgrade", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("image-upgrade", OutcomeFailure)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.upgraded.WithLabelValues("qanet")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))

	err := testutil.GatherAndCompare(r.Registry, strings.NewReader(`
# HELP nlo_services_upgraded Services moved to the new image by the last image upgrade
# TYPE nlo_services_upgraded gauge
nlo_services_upgraded{namespace="qanet"} 3
`), "nlo_services_upgraded")
	assert.NoError(t, err)
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		body, _ := io.ReadAll(req.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.Observe("snapshot", time.Now(), nil)
	require.NoError(t, r.Push(context.Background(), srv.URL, "nlo"))
	assert.Equal(t, "/metrics/job/nlo", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushDisabled(t *testing.T) {
	assert.NoError(t, New().Push(context.Background(), "", "nlo"))
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().Push(context.Background(), srv.URL, "nlo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), srv.URL)
}
