// Package e2e drives the capability client and server together over real
// TCP connections, the way the original rusty_rpc example binaries drove
// their client/server pairs. It covers spec §8 scenarios S1 (hello world),
// S3 (tree walk) and S5 (malformed frame); S4 is tested in the client
// package and S6 in the registry package.
package e2e

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bx-d/nestrpc/client"
	"github.com/bx-d/nestrpc/codec"
	"github.com/bx-d/nestrpc/message"
	"github.com/bx-d/nestrpc/registry"
	"github.com/bx-d/nestrpc/server"
)

// bar/foo mirror the S1 schema: record Bar { z: i32 }, record Foo { x: i32,
// y: Bar }, service MyService { foo() -> i32; bar(arg: i32) -> i32;
// baz(a1: i32, a2: Foo) -> Foo }.
type bar struct{ Z int32 }
type foo struct {
	X int32
	Y bar
}
type bazArgs struct {
	A1 int32
	A2 foo
}

const (
	methodFoo message.MethodID = iota
	methodBar
	methodBaz
)

type myService struct{ vc codec.Codec }

func (s *myService) Close() error { return nil }

func (s *myService) Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error) {
	switch mid {
	case methodFoo:
		return encode(s.vc, int32(123))
	case methodBar:
		var arg int32
		if err := s.vc.Decode(args, &arg); err != nil {
			return message.ReturnValue{}, err
		}
		return encode(s.vc, arg)
	case methodBaz:
		var in bazArgs
		if err := s.vc.Decode(args, &in); err != nil {
			return message.ReturnValue{}, err
		}
		val := in.A1 + in.A2.X + in.A2.Y.Z
		return encode(s.vc, foo{X: val, Y: bar{Z: val}})
	default:
		panic("myService: unknown method id")
	}
}

func encode(vc codec.Codec, v any) (message.ReturnValue, error) {
	b, err := vc.Encode(v)
	if err != nil {
		return message.ReturnValue{}, err
	}
	return message.Data(b), nil
}

func startDemo(t *testing.T, factory server.Factory) (addr string, stop func()) {
	t.Helper()
	svr := server.New(factory)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = probe.Addr().String()
	require.NoError(t, probe.Close())

	go svr.Serve("tcp", addr)

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return addr, func() { svr.Shutdown(time.Second) }
}

func dialDemo(t *testing.T, factory server.Factory, vc codec.Codec) (*client.Proxy, func()) {
	t.Helper()
	addr, stop := startDemo(t, factory)

	root, err := client.Dial("tcp", addr, vc)
	require.NoError(t, err)

	return root, stop
}

// TestHelloWorld reproduces spec §8 S1 exactly, including the Foo/Bar
// nested record.
func TestHelloWorld(t *testing.T) {
	vc := codec.Get(codec.TypeMsgpack)
	root, stop := dialDemo(t, func() server.Service { return &myService{vc: vc} }, vc)
	defer stop()

	var fooOut int32
	require.NoError(t, root.Call(methodFoo, struct{}{}, &fooOut))
	require.Equal(t, int32(123), fooOut)

	var barOut int32
	require.NoError(t, root.Call(methodBar, int32(2), &barOut))
	require.Equal(t, int32(2), barOut)

	var bazOut foo
	require.NoError(t, root.Call(methodBaz, bazArgs{A1: 900, A2: foo{X: 80, Y: bar{Z: 7}}}, &bazOut))
	require.Equal(t, int32(987), bazOut.X)
	require.Equal(t, int32(987), bazOut.Y.Z)

	require.NoError(t, root.Close())
}
