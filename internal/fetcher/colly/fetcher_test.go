package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "routine-agent", Timeout: time.Second})
	collector := f.buildCollector(&fetchResult{}, new(error))
	require.Equal(t, "routine-agent", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.ParseHTTPErrorResponse)
	require.Equal(t, 64<<20, collector.MaxBodySize)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result fetchResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("%PDF-1.4")})
	require.Equal(t, http.StatusOK, result.status)
	require.Equal(t, "%PDF-1.4", string(result.body))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestDownload(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok.pdf", func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() != "routine-agent" {
			http.Error(w, "bad agent", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "%PDF-1.7 body")
	})
	mux.HandleFunc("/missing.pdf", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/blocked.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<html><head><title>Just a moment...</title></head></html>`)
	})
	mux.HandleFunc("/cookie.pdf", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("cf_clearance")
		if err != nil || c.Value != "token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "%PDF-1.7 cleared")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{UserAgent: "routine-agent", Timeout: 5 * time.Second})

	body, err := f.Download(context.Background(), srv.URL+"/ok.pdf")
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7 body", string(body))

	body, err = f.Download(context.Background(), srv.URL+"/ok.pdf")
	require.NoError(t, err, "revisiting a url must be allowed")
	require.NotEmpty(t, body)

	_, err = f.Download(context.Background(), srv.URL+"/missing.pdf")
	require.ErrorIs(t, err, routine.ErrBadStatus)

	_, err = f.Download(context.Background(), srv.URL+"/blocked.pdf")
	require.ErrorIs(t, err, routine.ErrChallenge)

	_, err = f.Download(context.Background(), srv.URL+"/cookie.pdf")
	require.ErrorIs(t, err, routine.ErrBadStatus)
	require.NoError(t, f.SetCookies(srv.URL+"/", []*http.Cookie{{Name: "cf_clearance", Value: "token", Path: "/"}}))
	body, err = f.Download(context.Background(), srv.URL+"/cookie.pdf")
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7 cleared", string(body))
}

func TestDownloadCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Download(ctx, srv.URL+"/slow.pdf")
	require.ErrorIs(t, err, context.Canceled)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
