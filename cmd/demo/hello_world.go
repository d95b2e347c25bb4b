package main

import (
	"github.com/bx-d/nestrpc/codec"
	"github.com/bx-d/nestrpc/message"
	"github.com/bx-d/nestrpc/registry"
	"github.com/bx-d/nestrpc/server"
)

// Hand-written stand-ins for what an interface-file code generator would
// emit for:
//
//	record Bar { z: i32 }
//	record Foo { x: i32, y: Bar }
//	service MyService {
//	    foo() -> i32;
//	    bar(arg: i32) -> i32;
//	    baz(a1: i32, a2: Foo) -> Foo;
//	}
//
// (spec §8 S1 "Hello World")

type Bar struct{ Z int32 }
type Foo struct {
	X int32
	Y Bar
}

type bazArgs struct {
	A1 int32
	A2 Foo
}

const (
	methodFoo message.MethodID = iota
	methodBar
	methodBaz
)

type helloWorldService struct {
	vc codec.Codec
}

func newHelloWorldService(vc codec.Codec) server.Factory {
	return func() server.Service { return &helloWorldService{vc: vc} }
}

func (s *helloWorldService) Close() error { return nil }

func (s *helloWorldService) Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error) {
	switch mid {
	case methodFoo:
		return s.encode(int32(123))
	case methodBar:
		var arg int32
		if err := s.vc.Decode(args, &arg); err != nil {
			return message.ReturnValue{}, err
		}
		return s.encode(arg)
	case methodBaz:
		var in bazArgs
		if err := s.vc.Decode(args, &in); err != nil {
			return message.ReturnValue{}, err
		}
		val := in.A1 + in.A2.X + in.A2.Y.Z
		return s.encode(Foo{X: val, Y: Bar{Z: val}})
	default:
		panic("helloWorldService: unknown method id")
	}
}

func (s *helloWorldService) encode(v any) (message.ReturnValue, error) {
	b, err := s.vc.Encode(v)
	if err != nil {
		return message.ReturnValue{}, err
	}
	return message.Data(b), nil
}
