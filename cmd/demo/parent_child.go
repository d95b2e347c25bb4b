package main

import (
	"github.com/bx-d/nestrpc/codec"
	"github.com/bx-d/nestrpc/message"
	"github.com/bx-d/nestrpc/registry"
	"github.com/bx-d/nestrpc/server"
)

// Hand-written stand-ins for:
//
//	service ParentService { child() -> &ChildService; get() -> i32; }
//	service ChildService   { set(v: i32) -> i32; }
//
// (spec §8 S2 "Parent/Child")

const (
	methodChild message.MethodID = iota
	methodGet
)

const methodSet message.MethodID = 0

type parentService struct {
	vc    codec.Codec
	value int32
}

func newParentService(vc codec.Codec) server.Factory {
	return func() server.Service { return &parentService{vc: vc, value: 123} }
}

func (p *parentService) Close() error { return nil }

func (p *parentService) Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error) {
	switch mid {
	case methodGet:
		b, err := p.vc.Encode(p.value)
		if err != nil {
			return message.ReturnValue{}, err
		}
		return message.Data(b), nil
	case methodChild:
		// The child borrows p's own entry lock (guard) for as long as it
		// stays open — that's what makes get() on p observe ServiceBusy
		// while the child is alive, per spec §8 S2's assertion.
		child := &childService{vc: p.vc, parent: p}
		childID := reg.Register(child, guard)
		return message.Service(childID), nil
	default:
		panic("parentService: unknown method id")
	}
}

type childService struct {
	vc     codec.Codec
	parent *parentService
}

func (c *childService) Close() error { return nil }

func (c *childService) Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error) {
	switch mid {
	case methodSet:
		var v int32
		if err := c.vc.Decode(args, &v); err != nil {
			return message.ReturnValue{}, err
		}
		c.parent.value = v
		b, err := c.vc.Encode(v)
		if err != nil {
			return message.ReturnValue{}, err
		}
		return message.Data(b), nil
	default:
		panic("childService: unknown method id")
	}
}
