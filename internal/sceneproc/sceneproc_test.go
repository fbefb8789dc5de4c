package sceneproc

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/dndvisualizer/internal/imageclient"
	"github.com/haasonsaas/dndvisualizer/internal/llmclient"
)

const transcriptBody = `Transkript für: scene_20250620_sz001.wav
Datum: 2025-06-20

VOLLTEXT:
hello world

ZEITGESTEMPELTE SEGMENTE:
[00:00.00 - 00:02.50] hello
[00:02.50 - 00:04.00] world
`

func writeTranscript(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "scene_20250620_sz001_transkript.txt")
	require.NoError(t, os.WriteFile(path, []byte(transcriptBody), 0o644))
	return path
}

func fakeLLM(t *testing.T, response string) *llmclient.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"content":` + jsonQuote(response) + `}}`))
	}))
	t.Cleanup(srv.Close)
	return llmclient.New(llmclient.Config{BaseURL: srv.URL, Model: "deepseek-r1:14b", RetryCount: 1})
}

func jsonQuote(s string) string {
	out := "\""
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\n':
			out += `\n`
		case '\\':
			out += `\\`
		default:
			out += string(r)
		}
	}
	return out + "\""
}

func fakeImageServer(t *testing.T, handler func(net.Conn)) *imageclient.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(conn)
		}
	}()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return imageclient.New(imageclient.Config{Host: host, Port: port, ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second})
}

func TestProcessHappyPath(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	writeTranscript(t, dir)

	llm := fakeLLM(t, "DNDSTYLE IMAGE PROMPT: dndstyle, a tense standoff in a crypt\n\nIMAGE NAME: crypt_standoff")
	img := fakeImageServer(t, func(conn net.Conn) {
		defer conn.Close()
		bufio.NewReader(conn).ReadString('\n')
		// The real server writes the image itself; the fake does the same.
		os.WriteFile(filepath.Join(outDir, "scene_20250620_sz001_image.png"), []byte{}, 0o644)
		conn.Write([]byte(`{"file":"scene_20250620_sz001_image.png","timings":{"inference_s":1,"save_s":0.1,"total_s":1.1}}` + "\n"))
	})

	p := New(Config{OutputDir: outDir}, llm, img, nil)
	result := p.Process(context.Background(), filepath.Join(dir, "scene_20250620_sz001_transkript.txt"), true)

	require.Equal(t, StatusCompleted, result.Status)
	require.FileExists(t, filepath.Join(outDir, "scene_20250620_sz001_metadata.json"))
	require.FileExists(t, filepath.Join(outDir, "scene_20250620_sz001_image.png"))
}

func TestProcessParseErrorWritesErrorRecord(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	missing := filepath.Join(dir, "scene_missing_transkript.txt")

	p := New(Config{OutputDir: outDir}, nil, nil, nil)
	result := p.Process(context.Background(), missing, true)

	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, ReasonParseError, result.Reason)
	require.FileExists(t, filepath.Join(outDir, "scene_missing_error.json"))
}

func TestProcessImageUnreachableExhaustsRetriesAndFails(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	writeTranscript(t, dir)

	llm := fakeLLM(t, "DNDSTYLE IMAGE PROMPT: dndstyle, a tense standoff\n\nIMAGE NAME: standoff")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p2, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	img := imageclient.New(imageclient.Config{Host: host, Port: p2, ConnectTimeout: 20 * time.Millisecond, RequestTimeout: time.Second})

	proc := New(Config{OutputDir: outDir, MaxRetries: 2, RetryDelay: 10 * time.Millisecond}, llm, img, nil)
	result := proc.Process(context.Background(), filepath.Join(dir, "scene_20250620_sz001_transkript.txt"), true)

	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, ReasonImageError, result.Reason)
	require.FileExists(t, filepath.Join(outDir, "scene_20250620_sz001_error.json"))
	require.NoFileExists(t, filepath.Join(outDir, "scene_20250620_sz001_image.png"))
}

func TestProcessFallbackSkipAbortsWithoutArtifacts(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	writeTranscript(t, dir)

	p := New(Config{OutputDir: outDir, FallbackMode: FallbackSkip}, nil, nil, nil)
	result := p.Process(context.Background(), filepath.Join(dir, "scene_20250620_sz001_transkript.txt"), false)

	require.Equal(t, StatusSkipped, result.Status)
	require.NoFileExists(t, filepath.Join(outDir, "scene_20250620_sz001_error.json"))
	require.NoFileExists(t, filepath.Join(outDir, "scene_20250620_sz001_metadata.json"))
}

func TestProcessFallbackMockWritesPlaceholderImage(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	writeTranscript(t, dir)

	llm := fakeLLM(t, "DNDSTYLE IMAGE PROMPT: dndstyle, a tense standoff\n\nIMAGE NAME: standoff")

	p := New(Config{OutputDir: outDir, FallbackMode: FallbackMock}, llm, nil, nil)
	result := p.Process(context.Background(), filepath.Join(dir, "scene_20250620_sz001_transkript.txt"), false)

	require.Equal(t, StatusCompleted, result.Status)
	require.FileExists(t, filepath.Join(outDir, "scene_20250620_sz001_image.png"))
	require.FileExists(t, filepath.Join(outDir, "scene_20250620_sz001_metadata.json"))
}
