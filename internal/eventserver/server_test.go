package eventserver

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := New("127.0.0.1:0", 1, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(func() { s.Stop() })

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

// skipVersionEvent consumes the Version event line every new connection
// receives immediately on accept.
func skipVersionEvent(t *testing.T, scanner *bufio.Scanner) {
	t.Helper()
	require.True(t, scanner.Scan())
	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
	require.Equal(t, "Version", ev["Event"])
}

func TestNewConnectionReceivesVersionEvent(t *testing.T) {
	_, conn := newTestServer(t)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	skipVersionEvent(t, scanner)
}

func TestDispatchUnknownMethod(t *testing.T) {
	_, conn := newTestServer(t)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	skipVersionEvent(t, scanner)

	_, err := conn.Write([]byte(`{"jsonrpc":"2.0","method":"no_such_method","id":1}` + "\n"))
	require.NoError(t, err)

	require.True(t, scanner.Scan())

	var resp response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeDomainError, resp.Error.Code)
}

func TestDispatchRegisteredHandler(t *testing.T) {
	s, conn := newTestServer(t)
	s.Register("echo", func(params json.RawMessage) (interface{}, *RPCError) {
		return "ok", nil
	})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	skipVersionEvent(t, scanner)

	_, err := conn.Write([]byte(`{"jsonrpc":"2.0","method":"echo","id":7}` + "\n"))
	require.NoError(t, err)

	require.True(t, scanner.Scan())

	var resp response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.Equal(t, "ok", resp.Result)
}

func TestBroadcastReachesConnectedClient(t *testing.T) {
	s, conn := newTestServer(t)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	skipVersionEvent(t, scanner)

	s.Broadcast("StarSelected", map[string]interface{}{"X": 12.5, "Y": 7.0})

	require.True(t, scanner.Scan())

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
	require.Equal(t, "StarSelected", ev["Event"])
	require.InDelta(t, 12.5, ev["X"], 1e-9)
}
