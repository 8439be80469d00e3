package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/latticeworks/facet/internal/backend"
	"github.com/latticeworks/facet/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*backend.HTTPClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	return backend.NewHTTPClient(server.URL, 2*time.Second), server
}

func TestUpload(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/datasets", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "sample.cif", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dataset_id":"abc-123"}`))
	})
	defer server.Close()

	id, err := client.Upload(context.Background(), "sample.cif", []byte("data_x\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
}

func TestDownloadRoundTrip(t *testing.T) {
	payload := []byte("data_sample\n_cell_length_a 10.0\n")
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/datasets/abc-123/download", r.URL.Path)
		_, _ = w.Write(payload)
	})
	defer server.Close()

	data, err := client.Download(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestServerErrorIsTransient(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer server.Close()

	_, err := client.Upload(context.Background(), "sample.cif", []byte("x"))
	var unavailable *types.BackendUnavailableError
	require.True(t, errors.As(err, &unavailable), "expected BackendUnavailableError, got %v", err)
}

func TestNetworkErrorIsTransient(t *testing.T) {
	client := backend.NewHTTPClient("http://127.0.0.1:1", 200*time.Millisecond)

	err := client.Delete(context.Background(), "abc-123")
	var unavailable *types.BackendUnavailableError
	require.True(t, errors.As(err, &unavailable), "expected BackendUnavailableError, got %v", err)
}

func TestNotFoundIsDefinitive(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	err := client.Delete(context.Background(), "gone")
	var notFound *types.NotFoundError
	require.True(t, errors.As(err, &notFound), "expected NotFoundError, got %v", err)
}

func TestBadRequestIsValidation(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("unsupported file"))
	})
	defer server.Close()

	_, err := client.Upload(context.Background(), "sample.cif", []byte("x"))
	var validation *types.ValidationError
	require.True(t, errors.As(err, &validation), "expected ValidationError, got %v", err)
	assert.Contains(t, validation.Message, "unsupported file")
}

func TestSessionStatusMapping(t *testing.T) {
	tests := []struct {
		body string
		want backend.Status
	}{
		{`{"status":"active"}`, backend.StatusActive},
		{`{"status":"running"}`, backend.StatusActive},
		{`{"status":"ended"}`, backend.StatusEnded},
		{`{"status":"successful"}`, backend.StatusEnded},
		{`{"status":"weird"}`, backend.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			defer server.Close()

			status, err := client.SessionStatus(context.Background(), "sess-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestSessionStatusMissingIsUnknown(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	status, err := client.SessionStatus(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusUnknown, status)
}

func TestEndSessionOutput(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/interactive-sessions/sess-1/close", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"successful","output":{"dataset_id":"out-1","filename":"refined.cif","filetype":"cif"}}`))
	})
	defer server.Close()

	out, err := client.EndSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "out-1", out.DatasetID)
	assert.Equal(t, "refined.cif", out.Filename)
}

func TestEndSessionNoOutput(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"successful"}`))
	})
	defer server.Close()

	out, err := client.EndSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestListApplications(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/applications", r.URL.Path)
		_, _ = w.Write([]byte(`{"applications":[{"name":"olex2","slug":"olex2","version":"1.5","gui_port":8080}]}`))
	})
	defer server.Close()

	apps, err := client.ListApplications(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "olex2", apps[0].Name)
	assert.Equal(t, 8080, apps[0].GUIPort)
}
