package supervisor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/dndvisualizer/internal/imageclient"
	"github.com/haasonsaas/dndvisualizer/internal/llmclient"
)

func fakeOllama(t *testing.T, model string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models":[{"name":"` + model + `"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStartWaitsForStartupWindowThenHealthChecks(t *testing.T) {
	srv := fakeOllama(t, "deepseek-r1:14b")
	llm := llmclient.New(llmclient.Config{BaseURL: srv.URL, Model: "deepseek-r1:14b", RequiredModel: "deepseek-r1:14b"})
	img := imageclient.New(imageclient.Config{Host: "127.0.0.1", Port: 1})

	sup := New(Config{
		LaunchCommand: []string{"sleep", "5"},
		StartupWindow: 10 * time.Millisecond,
		ShutdownGrace: time.Second,
	}, llm, img, nil)

	var lines []string
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sup.Start(ctx, func(l string) { lines = append(lines, l) }, func(l string) { lines = append(lines, l) })
	require.NoError(t, err)

	require.NoError(t, sup.Healthy(ctx))
	require.NoError(t, sup.Stop())
}

func TestStartFailsHealthCheckWhenModelMissing(t *testing.T) {
	srv := fakeOllama(t, "some-other-model")
	llm := llmclient.New(llmclient.Config{BaseURL: srv.URL, Model: "deepseek-r1:14b", RequiredModel: "deepseek-r1:14b"})
	img := imageclient.New(imageclient.Config{Host: "127.0.0.1", Port: 1})

	sup := New(Config{
		LaunchCommand: []string{"sleep", "5"},
		StartupWindow: 5 * time.Millisecond,
		ShutdownGrace: time.Second,
	}, llm, img, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sup.Start(ctx, nil, nil)
	require.Error(t, err)
	require.NoError(t, sup.Stop())
}

func TestWaitForImageServerTimesOutWhenUnreachable(t *testing.T) {
	img := imageclient.New(imageclient.Config{Host: "127.0.0.1", Port: 1, ConnectTimeout: 10 * time.Millisecond})
	llm := llmclient.New(llmclient.Config{BaseURL: "http://127.0.0.1:1"})
	sup := New(Config{}, llm, img, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := sup.WaitForImageServer(ctx, 1000, 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForImageServerExhaustsBoundedRetries(t *testing.T) {
	img := imageclient.New(imageclient.Config{Host: "127.0.0.1", Port: 1, ConnectTimeout: 10 * time.Millisecond})
	llm := llmclient.New(llmclient.Config{BaseURL: "http://127.0.0.1:1"})
	sup := New(Config{}, llm, img, nil)

	err := sup.WaitForImageServer(context.Background(), 3, time.Millisecond)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForImageServerSucceedsOnceReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	img := imageclient.New(imageclient.Config{Host: host, Port: port, ConnectTimeout: 50 * time.Millisecond})
	llm := llmclient.New(llmclient.Config{BaseURL: "http://127.0.0.1:1"})
	sup := New(Config{}, llm, img, nil)

	require.NoError(t, sup.WaitForImageServer(context.Background(), 3, 5*time.Millisecond))
}
