package network

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() LinkConfig {
	cfg := DefaultLinkConfig()
	cfg.ChannelCapacity = 16
	return cfg
}

// recv reads one line from ch or fails the test.
func recv(t *testing.T, ch <-chan string) (string, bool) {
	t.Helper()
	select {
	case line, ok := <-ch:
		return line, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return "", false
	}
}

func newPipeLink(t *testing.T) (*Link, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	link, err := NewLink(client, testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		server.Close()
		link.Close()
	})
	return link, server
}

func TestNewLinkRejectsEmptyDelimiter(t *testing.T) {
	cfg := testConfig()
	cfg.Delimiter = ""

	_, err := NewLink(nil, cfg, nil)
	assert.ErrorIs(t, err, ErrEmptyDelimiter)

	_, err = Dial(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrEmptyDelimiter)
}

func TestNewLinkRejectsZeroCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.ChannelCapacity = 0
	_, err := NewLink(nil, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestLinkFramesInboundLines(t *testing.T) {
	link, server := newPipeLink(t)

	go func() {
		server.Write([]byte("abc\r\nde"))
		server.Write([]byte("f\r\ngh"))
	}()

	line, ok := recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, "abc", line)

	line, ok = recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, "def", line)
}

func TestLinkAppendsDelimiterOnWrite(t *testing.T) {
	link, server := newPipeLink(t)

	link.Outbound() <- "NICK Dot"

	reader := bufio.NewReader(server)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "NICK Dot\r\n", got)
}

func TestLinkDiscardsUndecodableChunk(t *testing.T) {
	link, server := newPipeLink(t)

	go func() {
		server.Write([]byte{0xff, 0xfe, '\r', '\n'})
		time.Sleep(20 * time.Millisecond)
		server.Write([]byte("ok\r\n"))
	}()

	line, ok := recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, "ok", line)
	assert.Equal(t, int64(1), link.Stats().DecodeFailures)
}

func TestLinkKeepsRuneSplitAcrossReads(t *testing.T) {
	link, server := newPipeLink(t)
	euro := []byte("€")

	go func() {
		server.Write(append([]byte("price "), euro[:1]...))
		time.Sleep(20 * time.Millisecond)
		server.Write(append(euro[1:], []byte("5\r\n")...))
	}()

	line, ok := recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, "price €5", line)
	assert.Zero(t, link.Stats().DecodeFailures)
}

func TestLinkStrayLeadByteDropsOnlyTheLeadByte(t *testing.T) {
	link, server := newPipeLink(t)

	go func() {
		server.Write([]byte("junk\r\n\xc3"))
		time.Sleep(20 * time.Millisecond)
		server.Write([]byte("PING :srv\r\n"))
	}()

	line, ok := recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, "junk", line)

	line, ok = recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, "PING :srv", line)
	assert.Equal(t, int64(1), link.Stats().DecodeFailures)
}

func TestLinkIncompleteRuneAtEndOfStream(t *testing.T) {
	link, server := newPipeLink(t)

	go func() {
		server.Write([]byte("ok\r\n\xe2\x82"))
		server.Close()
	}()

	line, ok := recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, "ok", line)

	_, ok = recv(t, link.Inbound())
	require.False(t, ok)
	assert.Equal(t, int64(1), link.Stats().DecodeFailures)
}

func TestLinkEndOfStreamClosesInbound(t *testing.T) {
	link, server := newPipeLink(t)

	go func() {
		server.Write([]byte("last\r\n"))
		server.Close()
	}()

	line, ok := recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, "last", line)

	_, ok = recv(t, link.Inbound())
	assert.False(t, ok, "inbound must be closed after end of stream")
	assert.Equal(t, ConnectionStateClosed, link.State())

	// A dead link keeps accepting outbound lines without blocking.
	for i := 0; i < 64; i++ {
		link.Outbound() <- "dropped"
	}
	close(link.Outbound())
	link.Wait()
	assert.Equal(t, int64(64), link.Stats().LinesDropped)
}

func TestLinkClosingOutboundStopsLink(t *testing.T) {
	link, _ := newPipeLink(t)

	close(link.Outbound())

	_, ok := recv(t, link.Inbound())
	assert.False(t, ok)
	link.Wait()
	assert.Equal(t, ConnectionStateClosed, link.State())
}

func TestDialLoopback(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte(":server 001 Dot :Welcome\r\n"))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	addr := listener.Addr().(*net.TCPAddr)
	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = addr.Port
	cfg.DialTimeout = time.Second

	link, err := Dial(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer link.Close()

	line, ok := recv(t, link.Inbound())
	require.True(t, ok)
	assert.Equal(t, ":server 001 Dot :Welcome", line)

	link.Outbound() <- "PONG :server"
	select {
	case got := <-received:
		assert.Equal(t, "PONG :server", strings.TrimRight(got, "\r\n"))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive line")
	}
	assert.NotEmpty(t, link.ID())
	assert.Contains(t, link.Stats().String(), link.ID())
}

func TestDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = addr.Port
	cfg.DialTimeout = time.Second

	_, err = Dial(context.Background(), cfg, nil)
	assert.Error(t, err)
}
