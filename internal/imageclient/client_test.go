package imageclient

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, handler func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()
	return ln.Addr().String()
}

func dialConfig(t *testing.T, addr string) Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Config{Host: host, Port: port, ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second}
}

func TestGenerateHappyPath(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		line, _ := reader.ReadString('\n')
		require.Contains(t, line, "\"prompt\"")
		conn.Write([]byte(`{"file":"0130_scene.png","timings":{"inference_s":1.5,"save_s":0.2,"total_s":1.7}}` + "\n"))
	})

	c := New(dialConfig(t, addr))
	resp, err := c.Generate("a dark tavern", "0130_scene.png")
	require.NoError(t, err)
	require.Equal(t, "0130_scene.png", resp.File)
	require.InDelta(t, 1.7, resp.Timings.TotalS, 0.0001)
}

func TestGenerateServerError(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {
		bufio.NewReader(conn).ReadString('\n')
		conn.Write([]byte(`{"error":"model overloaded"}` + "\n"))
	})

	c := New(dialConfig(t, addr))
	_, err := c.Generate("prompt", "file.png")
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, KindServerError, ierr.Kind)
	require.False(t, ierr.Retryable())
}

func TestGenerateProtocolError(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {
		bufio.NewReader(conn).ReadString('\n')
		conn.Write([]byte("not json\n"))
	})

	c := New(dialConfig(t, addr))
	_, err := c.Generate("prompt", "file.png")
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, KindProtocolError, ierr.Kind)
}

func TestGenerateUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := New(dialConfig(t, addr))
	_, err = c.Generate("prompt", "file.png")
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, KindUnreachable, ierr.Kind)
	require.True(t, ierr.Retryable())
}

func TestProbeSucceedsAgainstListener(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {})
	c := New(dialConfig(t, addr))
	require.NoError(t, c.Probe())
}
