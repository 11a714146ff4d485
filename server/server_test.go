package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportdedup/featurecache"
	"reportdedup/metrics"
	"reportdedup/types"
	"reportdedup/workflow"
)

type fakeCache struct {
	stats   featurecache.Stats
	cleared int
}

func (f *fakeCache) ClearFeaturesCache() {
	f.cleared++
	f.stats = featurecache.Stats{}
}

func (f *fakeCache) CacheStats() featurecache.Stats { return f.stats }

type fakeSubmitter struct {
	res *workflow.Result
	err error
	got workflow.Submission
}

func (f *fakeSubmitter) SubmitReport(_ context.Context, sub workflow.Submission) (*workflow.Result, error) {
	f.got = sub
	return f.res, f.err
}

func newTestServer(t *testing.T, cfg Config, cache *fakeCache, sub *fakeSubmitter) http.Handler {
	t.Helper()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":0"
	}
	reg := prometheus.NewRegistry()
	metrics.NewMetrics(reg)
	s, err := New(cfg, cache, sub, reg)
	require.NoError(t, err)
	return s.Handler()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var body response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, Config{}, &fakeCache{}, &fakeSubmitter{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, Config{}, &fakeCache{}, &fakeSubmitter{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reportdedup_feature_cache_entries")
}

func TestCacheAdmin(t *testing.T) {
	cache := &fakeCache{stats: featurecache.Stats{Count: 3, ApproxBytes: 3 * 1024 * 4}}
	h := newTestServer(t, Config{AdminToken: "s3cret"}, cache, &fakeSubmitter{})

	tests := []struct {
		name   string
		method string
		token  string
		want   int
	}{
		{"stats without token", http.MethodGet, "", http.StatusUnauthorized},
		{"stats wrong token", http.MethodGet, "nope", http.StatusUnauthorized},
		{"stats", http.MethodGet, "s3cret", http.StatusOK},
		{"clear", http.MethodDelete, "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/admin/cache", nil)
			if tt.token != "" {
				req.Header.Set(adminTokenHeader, tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	assert.Equal(t, 1, cache.cleared)
	assert.Equal(t, featurecache.Stats{}, cache.stats)
}

func TestCacheStatsBody(t *testing.T) {
	cache := &fakeCache{stats: featurecache.Stats{Count: 2, ApproxBytes: 8192}}
	h := newTestServer(t, Config{}, cache, &fakeSubmitter{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data featurecache.Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, cache.stats, body.Data)
}

func multipartRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "photo.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/reports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var reportFields = map[string]string{
	"campus_id": "c1", "area_id": "a1", "category_id": "k1",
	"complainant_id": "p1", "complainant_name": "Pat", "description": "broken light",
}

func TestSubmitReportStatusCodes(t *testing.T) {
	created := &workflow.Result{Action: workflow.ActionCreateNew, Report: &types.Report{ID: "new"}}
	merged := &workflow.Result{Action: workflow.ActionMergeInto, Report: &types.Report{ID: "old"}}
	rejected := &workflow.Result{
		Action:  workflow.ActionRejectDuplicateSubmitter,
		Report:  &types.Report{ID: "old-42"},
		Verdict: types.Verdict{Similar: true, Similarity: 0.93, ReportID: "old-42"},
	}

	tests := []struct {
		name     string
		res      *workflow.Result
		err      error
		want     int
		reportID string
	}{
		{"created", created, nil, http.StatusCreated, "new"},
		{"merged", merged, nil, http.StatusOK, "old"},
		{"already reported", rejected, workflow.ErrAlreadyReported, http.StatusConflict, "old-42"},
		{"already reported without result", nil, workflow.ErrAlreadyReported, http.StatusConflict, ""},
		{"no image", nil, workflow.ErrNoImage, http.StatusBadRequest, ""},
		{"invalid", nil, errors.Wrap(workflow.ErrInvalidSubmission, "missing area_id"), http.StatusUnprocessableEntity, ""},
		{"bad image", nil, errors.Wrap(workflow.ErrImageProcessing, "decode"), http.StatusUnprocessableEntity, ""},
		{"model missing", nil, fmt.Errorf("%w: %w", workflow.ErrImageProcessing, &types.BackboneLoadError{ModelPath: "m.onnx", Err: os.ErrNotExist}), http.StatusServiceUnavailable, ""},
		{"wrong model output", nil, fmt.Errorf("%w: %w", workflow.ErrImageProcessing, &types.DimensionMismatchError{Got: 1000, Want: 1024}), http.StatusServiceUnavailable, ""},
		{"store down", nil, errors.New("database locked"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{res: tt.res, err: tt.err}
			h := newTestServer(t, Config{}, &fakeCache{}, sub)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, multipartRequest(t, reportFields, []byte("jpeg")))

			assert.Equal(t, tt.want, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.want < 400, body.Success)
			assert.Equal(t, tt.want, body.Status)

			if tt.reportID == "" {
				assert.Nil(t, body.Data)
				return
			}
			data, ok := body.Data.(map[string]interface{})
			require.True(t, ok, "data is %T", body.Data)
			report, ok := data["report"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.reportID, report["id"])
			assert.Equal(t, string(tt.res.Action), data["action"])
		})
	}
}

func TestSubmitReportPassesFields(t *testing.T) {
	sub := &fakeSubmitter{res: &workflow.Result{Action: workflow.ActionCreateNew, Report: &types.Report{ID: "x"}}}
	h := newTestServer(t, Config{}, &fakeCache{}, sub)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, reportFields, []byte("image-bytes")))
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, "c1", sub.got.CampusID)
	assert.Equal(t, "p1", sub.got.ComplainantID)
	assert.Equal(t, "broken light", sub.got.Description)
	assert.Equal(t, []byte("image-bytes"), sub.got.Image)
}

func TestSubmitReportWithoutFile(t *testing.T) {
	sub := &fakeSubmitter{err: workflow.ErrNoImage}
	h := newTestServer(t, Config{}, &fakeCache{}, sub)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, reportFields, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sub.got.Image)
}

func TestSubmitReportRejectsNonMultipart(t *testing.T) {
	h := newTestServer(t, Config{}, &fakeCache{}, &fakeSubmitter{})
	req := httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader(`{"campus_id":"c1"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImagesAreServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644))
	h := newTestServer(t, Config{ImageDir: dir}, &fakeCache{}, &fakeSubmitter{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/a.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImageDirectoryIsNotListed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret-a.jpg"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret-b.jpg"), []byte("b"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	h := newTestServer(t, Config{ImageDir: dir}, &fakeCache{}, &fakeSubmitter{})

	for _, path := range []string{"/images/", "/images/sub/", "/images/sub"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "secret-a.jpg", path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/secret-b.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRequiresListenAddr(t *testing.T) {
	_, err := New(Config{}, &fakeCache{}, &fakeSubmitter{}, nil)
	assert.Error(t, err)
}
