package session

import (
	"bufio"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/catalogue"
	"github.com/cu-fleet/curmd/internal/dispatch"
	"github.com/cu-fleet/curmd/internal/imageloader"
	"github.com/cu-fleet/curmd/internal/pluginhost"
	"github.com/cu-fleet/curmd/internal/wire"
)

type testClient struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func newTestServer(t *testing.T) (*allocator.Allocator, *testClient) {
	t.Helper()

	cat := catalogue.New(1)
	alloc := allocator.New(cat)
	err := alloc.LoadDevice(0, "test.xclbin", uuid.New(), []catalogue.ImageCU{
		{KernelName: "krnl_vadd", InstanceName: "vadd_0", Kind: catalogue.KindHardware, MaxCapacity: catalogue.MaxUnifiedLoad},
	})
	require.NoError(t, err)

	d := dispatch.New(alloc, imageloader.NewFake(), pluginhost.New(), nil)

	server, client := net.Pipe()
	sess := New(server, d)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sess.Serve(ctx)
	t.Cleanup(func() { client.Close() })
	return alloc, &testClient{conn: client, r: bufio.NewReader(client), w: bufio.NewWriter(client)}
}

func (c *testClient) roundTrip(t *testing.T, req wire.Request) wire.Response {
	t.Helper()
	require.NoError(t, wire.WriteRequest(c.w, req))
	require.NoError(t, c.w.Flush())
	resp, err := wire.ReadResponse(c.r)
	require.NoError(t, err)
	return resp
}

func TestSessionDispatchesRequests(t *testing.T) {
	_, client := newTestServer(t)
	resp := client.roundTrip(t, wire.Request{Name: "isDaemonRunning", RequestID: 1})
	require.True(t, resp.OK())
	require.Equal(t, int64(1), resp.RequestID)
}

// An unparseable body gets the legacy failed response and the connection
// stays open for the next request.
func TestSessionSurvivesParseFailure(t *testing.T) {
	_, client := newTestServer(t)

	garbage := []byte("{this is not json")
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(garbage)))
	_, err := client.conn.Write(append(lenPrefix[:], garbage...))
	require.NoError(t, err)

	resp, err := wire.ReadResponse(client.r)
	require.NoError(t, err)
	require.False(t, resp.OK())
	require.Equal(t, "failed", resp.Name)
	require.Equal(t, string(garbage), resp.Data["request"])

	// The session keeps serving.
	resp = client.roundTrip(t, wire.Request{Name: "isDaemonRunning", RequestID: 2})
	require.True(t, resp.OK())
}

// A request with no name is answered with invalid-argument, not a closed
// connection.
func TestSessionRejectsNamelessRequest(t *testing.T) {
	_, client := newTestServer(t)
	resp := client.roundTrip(t, wire.Request{RequestID: 3})
	require.False(t, resp.OK())
	require.Equal(t, wire.ErrCodeInvalidArgument, resp.Code())
}

// Closing the socket recycles everything the recorded client held.
func TestSessionRecyclesOnDisconnect(t *testing.T) {
	alloc, client := newTestServer(t)

	resp := client.roundTrip(t, wire.Request{
		Name: "echoContext", RequestID: 1,
		Params: map[string]any{
			"recordClientId": true,
			"clientId":       float64(77),
			"processId":      float64(1234),
		},
	})
	require.True(t, resp.OK())

	resp = client.roundTrip(t, wire.Request{
		Name: "cuAlloc", RequestID: 2,
		Params: map[string]any{
			"kernelName":  "krnl_vadd",
			"requestLoad": float64(300_000),
			"clientId":    float64(77),
		},
	})
	require.True(t, resp.OK())
	require.Len(t, alloc.AllocationQuery(77), 1)

	client.conn.Close()

	require.Eventually(t, func() bool {
		return len(alloc.AllocationQuery(77)) == 0
	}, time.Second, 10*time.Millisecond, "expected client 77's channels recycled after disconnect")
}
