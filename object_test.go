package dbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/godbusd/dbus/dbustest"
	"github.com/godbusd/dbus/message"
)

func TestPeerPingRepliesInlineWithoutAnyExportedObject(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	peer.Send(&message.Message{
		Type:      message.TypeMethodCall,
		Serial:    1,
		Path:      "/obj",
		Interface: message.InterfacePeer,
		Member:    message.MemberPing,
	})

	reply := peer.Recv(time.Second)
	require.Equal(t, message.TypeMethodReturn, reply.Type)
	require.EqualValues(t, 1, reply.ReplySerial)
	require.Empty(t, reply.Body)
}

func TestPeerGetMachineIdIsStableAcrossCalls(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	req := func(serial uint32) string {
		peer.Send(&message.Message{
			Type:      message.TypeMethodCall,
			Serial:    serial,
			Path:      "/obj",
			Interface: message.InterfacePeer,
			Member:    message.MemberGetMachineId,
		})
		reply := peer.Recv(time.Second)
		require.Equal(t, message.TypeMethodReturn, reply.Type)
		require.Len(t, reply.Body, 1)
		id, ok := reply.Body[0].(string)
		require.True(t, ok)
		return id
	}

	first := req(1)
	second := req(2)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestPeerUnknownMemberFails(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	peer.Send(&message.Message{
		Type:      message.TypeMethodCall,
		Serial:    1,
		Path:      "/obj",
		Interface: message.InterfacePeer,
		Member:    "Bogus",
	})

	reply := peer.Recv(time.Second)
	require.Equal(t, message.TypeError, reply.Type)
	require.Equal(t, message.ErrNameUnknownMethod, reply.ErrorName)
}

type stubObject struct {
	calls  chan *message.Message
	closed chan error
}

func newStubObject() *stubObject {
	return &stubObject{calls: make(chan *message.Message, 4), closed: make(chan error, 1)}
}

func (s *stubObject) HandleCall(ctx context.Context, conn *Connection, msg *message.Message) {
	s.calls <- msg
	_ = conn.SendReply(ctx, msg, []interface{}{"ok"})
}

func (s *stubObject) Closed(err error) {
	s.closed <- err
}

func TestExportedObjectHandlesItsOwnPath(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	obj := newStubObject()
	_, err := conn.ExportObject("/a/b", obj)
	require.NoError(t, err)

	peer.Send(&message.Message{
		Type:      message.TypeMethodCall,
		Serial:    1,
		Path:      "/a/b",
		Interface: "org.example.Thing",
		Member:    "DoIt",
	})

	reply := peer.Recv(time.Second)
	require.Equal(t, message.TypeMethodReturn, reply.Type)
	require.Equal(t, []interface{}{"ok"}, reply.Body)

	select {
	case <-obj.calls:
	default:
		t.Fatal("handler was not invoked")
	}
}

func TestExportedObjectClosedOnCrash(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	obj := newStubObject()
	_, err := conn.ExportObject("/a/b", obj)
	require.NoError(t, err)

	_ = peerTr.Shutdown()

	select {
	case err := <-obj.closed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Closed was never invoked")
	}
}

func TestUnknownObjectGetsFailedError(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	peer.Send(&message.Message{
		Type:      message.TypeMethodCall,
		Serial:    7,
		Path:      "/nope",
		Interface: "org.example.Thing",
		Member:    "DoStuff",
	})

	reply := peer.Recv(time.Second)
	require.Equal(t, message.TypeError, reply.Type)
	require.Equal(t, message.ErrNameFailed, reply.ErrorName)
}

func TestIntrospectSynthesizesVirtualParent(t *testing.T) {
	conn, peerTr := Loopback(WithDisconnectHandler(func(error) {}))
	peer := dbustest.NewPeer(t, peerTr)
	defer conn.Close()

	_, err := conn.ExportObject("/a/b", newStubObject())
	require.NoError(t, err)
	_, err = conn.ExportObject("/a/c", newStubObject())
	require.NoError(t, err)

	peer.Send(&message.Message{
		Type:      message.TypeMethodCall,
		Serial:    1,
		Path:      "/a",
		Interface: message.InterfaceIntrospectable,
		Member:    message.MemberIntrospect,
	})

	reply := peer.Recv(time.Second)
	require.Equal(t, message.TypeMethodReturn, reply.Type)
	require.Len(t, reply.Body, 1)
	xmlDoc, ok := reply.Body[0].(string)
	require.True(t, ok)
	require.Contains(t, xmlDoc, `name="b"`)
	require.Contains(t, xmlDoc, `name="c"`)
}
