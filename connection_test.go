package dbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/godbusd/dbus/dbustest"
	"github.com/godbusd/dbus/message"
	"github.com/godbusd/dbus/transport"
)

func TestMethodCallRoundTrip(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	go func() {
		call := peer.Recv(time.Second)
		peer.ReplyTo(call, []interface{}{"hello"})
	}()

	reply, err := conn.MethodCall(context.Background(), "", "/obj", "org.example.Iface", "Echo", []interface{}{"hello"})
	require.NoError(t, err)
	require.Equal(t, []interface{}{"hello"}, reply)
}

func TestMethodCallErrorReply(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	go func() {
		call := peer.Recv(time.Second)
		peer.ErrorTo(call, message.ErrNameUnknownMethod, []interface{}{"nope"})
	}()

	_, err := conn.MethodCall(context.Background(), "", "/obj", "org.example.Iface", "Bogus", nil)
	require.Error(t, err)

	var derr *message.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, message.ErrNameUnknownMethod, derr.Name)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, peerTr := Loopback()
	defer peerTr.Shutdown()

	err1 := conn.Close()
	err2 := conn.Close()
	require.ErrorIs(t, err1, ErrConnectionClosed)
	require.Equal(t, err1, err2)
}

func TestSerialsAreMonotonicAndNeverZero(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	defer conn.Close()

	go func() {
		for i := 0; i < 3; i++ {
			_, _ = peerTr.Recv(context.Background())
		}
	}()

	var serials []uint32
	for i := 0; i < 3; i++ {
		msg := &message.Message{Type: message.TypeSignal, Member: "Tick"}
		require.NoError(t, conn.SendMessage(context.Background(), msg))
		serials = append(serials, msg.Serial)
	}
	require.Equal(t, []uint32{1, 2, 3}, serials)
}

func TestOutgoingFilterCanDropMessage(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	defer conn.Close()
	defer peerTr.Shutdown()

	_, err := conn.AddOutgoingFilter(func(m *message.Message) (*message.Message, error) {
		return nil, nil
	})
	require.NoError(t, err)

	err = conn.SendMessage(context.Background(), &message.Message{Type: message.TypeSignal, Member: "X"})
	require.ErrorIs(t, err, ErrFilterDropped)
}

func TestRemovedFilterStopsApplying(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	defer conn.Close()
	defer peerTr.Shutdown()

	calls := 0
	handle, err := conn.AddOutgoingFilter(func(m *message.Message) (*message.Message, error) {
		calls++
		return m, nil
	})
	require.NoError(t, err)
	handle.Remove()

	go func() { _, _ = peerTr.Recv(context.Background()) }()
	require.NoError(t, conn.SendMessage(context.Background(), &message.Message{Type: message.TypeSignal, Member: "X"}))
	require.Equal(t, 0, calls)
}

func TestPeerHangupCrashesConnectionAndInvokesHandler(t *testing.T) {
	done := make(chan error, 1)
	conn, peerTr := Loopback(WithDisconnectHandler(func(err error) { done <- err }))
	peer := dbustest.NewPeer(t, peerTr)
	peer.Hangup()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("disconnect handler was not called")
	}

	_, err := conn.IsUp()
	require.Error(t, err)
}

func TestOfTransportSharesConnectionByGUID(t *testing.T) {
	ctx := context.Background()
	a, _ := transport.NewLoopbackPair()
	c1, err := OfTransport(ctx, a, "guid-shared", true, WithDisconnectHandler(func(error) {}))
	require.NoError(t, err)
	defer c1.Close()

	b, _ := transport.NewLoopbackPair()
	c2, err := OfTransport(ctx, b, "guid-shared", true, WithDisconnectHandler(func(error) {}))
	require.NoError(t, err)

	require.Same(t, c1, c2)
}

func TestOfTransportUnsharedAlwaysCreatesNew(t *testing.T) {
	ctx := context.Background()
	a, _ := transport.NewLoopbackPair()
	c1, err := OfTransport(ctx, a, "guid-unshared", false, WithDisconnectHandler(func(error) {}))
	require.NoError(t, err)
	defer c1.Close()

	b, _ := transport.NewLoopbackPair()
	c2, err := OfTransport(ctx, b, "guid-unshared", false, WithDisconnectHandler(func(error) {}))
	require.NoError(t, err)
	defer c2.Close()

	require.NotSame(t, c1, c2)
}

func TestSendAfterCloseFailsWithNotRunningError(t *testing.T) {
	conn, peerTr := Loopback()
	defer peerTr.Shutdown()
	_ = conn.Close()

	err := conn.SendMessage(context.Background(), &message.Message{Type: message.TypeSignal, Member: "X"})
	var nre *NotRunningError
	require.ErrorAs(t, err, &nre)
	require.ErrorIs(t, nre.Cause, ErrConnectionClosed)
}

func TestDataErrorDoesNotAdvanceSerial(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	defer conn.Close()
	defer peerTr.Shutdown()

	bad := &message.Message{Type: message.TypeSignal, Member: "X", Signature: "vv", Body: []interface{}{"only one"}}
	err := conn.SendMessage(context.Background(), bad)
	require.Error(t, err)
	var dataErr *message.DataError
	require.ErrorAs(t, err, &dataErr)
	require.EqualValues(t, 1, bad.Serial)

	go func() { _, _ = peerTr.Recv(context.Background()) }()
	good := &message.Message{Type: message.TypeSignal, Member: "Y"}
	require.NoError(t, conn.SendMessage(context.Background(), good))
	require.EqualValues(t, 1, good.Serial)

	_, upErr := conn.IsUp()
	require.NoError(t, upErr)
}

// failingTransport fails every Send with a fixed non-DataError, simulating
// a transport-level write fault (a broken pipe mid-flight) rather than a
// marshalling fault.
type failingTransport struct {
	sendErr error
	recvCh  chan *message.Message
	done    chan struct{}
	mu      sync.Mutex
}

func newFailingTransport(sendErr error) *failingTransport {
	return &failingTransport{sendErr: sendErr, recvCh: make(chan *message.Message), done: make(chan struct{})}
}

func (f *failingTransport) Send(ctx context.Context, msg *message.Message) error {
	return f.sendErr
}

func (f *failingTransport) Recv(ctx context.Context) (*message.Message, error) {
	select {
	case m := <-f.recvCh:
		return m, nil
	case <-f.done:
		return nil, transport.ErrEndOfStream
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *failingTransport) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}

var _ transport.Transport = (*failingTransport)(nil)

func TestSendFailureCrashesConnectionWithTransportError(t *testing.T) {
	writeErr := errors.New("write: broken pipe")
	tr := newFailingTransport(writeErr)

	handled := make(chan error, 1)
	conn, err := OfTransport(context.Background(), tr, "guid-partial-write", false, WithDisconnectHandler(func(err error) { handled <- err }))
	require.NoError(t, err)

	sendErr := conn.SendMessage(context.Background(), &message.Message{Type: message.TypeSignal, Member: "X"})
	require.Error(t, sendErr)
	var nre *NotRunningError
	require.ErrorAs(t, sendErr, &nre)
	var txErr *TransportError
	require.ErrorAs(t, nre.Cause, &txErr)
	require.ErrorIs(t, txErr.Err, writeErr)

	select {
	case hErr := <-handled:
		require.ErrorAs(t, hErr, &txErr)
	case <-time.After(time.Second):
		t.Fatal("disconnect handler was never invoked")
	}

	_, upErr := conn.IsUp()
	require.Error(t, upErr)
	require.ErrorAs(t, upErr, &nre)
	require.ErrorAs(t, nre.Cause, &txErr)
}

type stubDialer struct {
	guid string
	t    transport.Transport
	err  error
}

func (d *stubDialer) Dial(ctx context.Context, kind string, params map[string]string) (string, transport.Transport, error) {
	if d.err != nil {
		return "", nil, d.err
	}
	return d.guid, d.t, nil
}

func TestOfAddressesDialsAndSharesByGUID(t *testing.T) {
	ctx := context.Background()
	a, _ := transport.NewLoopbackPair()
	dialer := &stubDialer{guid: "guid-from-address", t: a}

	c1, err := OfAddresses(ctx, "unix:path=/tmp/sock", dialer, true, WithDisconnectHandler(func(error) {}))
	require.NoError(t, err)
	defer c1.Close()
	require.Equal(t, "guid-from-address", c1.GUID())

	c2, err := OfAddresses(ctx, "unix:path=/tmp/sock,guid=guid-from-address", dialer, true, WithDisconnectHandler(func(error) {}))
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestOfAddressesPropagatesDialError(t *testing.T) {
	ctx := context.Background()
	dialErr := errors.New("dial: connection refused")
	dialer := &stubDialer{err: dialErr}

	_, err := OfAddresses(ctx, "unix:path=/tmp/sock", dialer, false)
	require.ErrorIs(t, err, dialErr)
}

func TestOfAddressesUsesInjectedSharedRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewSharedGUIDRegistry()

	a, _ := transport.NewLoopbackPair()
	dialerA := &stubDialer{guid: "guid-isolated", t: a}
	c1, err := OfAddresses(ctx, "unix:path=/tmp/a,guid=guid-isolated", dialerA, true,
		WithDisconnectHandler(func(error) {}), WithSharedGUIDRegistry(reg))
	require.NoError(t, err)
	defer c1.Close()

	b, _ := transport.NewLoopbackPair()
	dialerB := &stubDialer{guid: "guid-isolated", t: b}
	c2, err := OfAddresses(ctx, "unix:path=/tmp/b,guid=guid-isolated", dialerB, true,
		WithDisconnectHandler(func(error) {}))
	require.NoError(t, err)
	defer c2.Close()

	require.NotSame(t, c1, c2, "a connection using the package-default registry must not see a connection registered under an isolated one")
}

func TestMethodCallIntoDecodesReplyBody(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	go func() {
		call := peer.Recv(time.Second)
		peer.ReplyTo(call, []interface{}{"answer", int32(42)})
	}()

	var name string
	var n int32
	err := conn.MethodCallInto(context.Background(), "", "/obj", "org.example.Iface", "Get", nil, []interface{}{&name, &n})
	require.NoError(t, err)
	require.Equal(t, "answer", name)
	require.EqualValues(t, 42, n)
}

func TestMethodCallIntoSurfacesCastFailure(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	go func() {
		call := peer.Recv(time.Second)
		peer.ReplyTo(call, []interface{}{"not an int"})
	}()

	var n int32
	err := conn.MethodCallInto(context.Background(), "", "/obj", "org.example.Iface", "Get", nil, []interface{}{&n})
	require.Error(t, err)
	var castErr *message.CastFailure
	require.ErrorAs(t, err, &castErr)

	_, upErr := conn.IsUp()
	require.NoError(t, upErr)
}
