package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPipelineAnalyze(t *testing.T) {
	var gotSource string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotSource = req.Source

		json.NewEncoder(w).Encode(Report{
			OptimizationScore: 72,
			SecurityScore:     88,
			Findings:          []string{"unchecked call return"},
		})
	}))
	defer ts.Close()

	p := NewHTTPPipeline(ts.URL, 5*time.Second)
	report, err := p.Analyze(context.Background(), "contract X {}")
	require.NoError(t, err)

	assert.Equal(t, "contract X {}", gotSource)
	assert.Equal(t, 72, report.OptimizationScore)
	assert.Equal(t, 88, report.SecurityScore)
	assert.Equal(t, []string{"unchecked call return"}, report.Findings)
}

func TestHTTPPipelineNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	p := NewHTTPPipeline(ts.URL, 5*time.Second)
	_, err := p.Analyze(context.Background(), "contract X {}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPPipelineContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background connection read;
		// otherwise r.Context() is never cancelled on client disconnect and
		// ts.Close() deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewHTTPPipeline(ts.URL, 5*time.Second)
	_, err := p.Analyze(ctx, "contract X {}")
	require.Error(t, err)
}
