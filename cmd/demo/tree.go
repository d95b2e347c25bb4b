package main

import (
	"github.com/bx-d/nestrpc/codec"
	"github.com/bx-d/nestrpc/message"
	"github.com/bx-d/nestrpc/registry"
	"github.com/bx-d/nestrpc/server"
)

// Hand-written stand-ins for:
//
//	service TreeService { root() -> &NodeService; }
//	service NodeService  { nth_child(n: i32) -> &NodeService; get_value() -> i32; }
//
// (spec §8 S3 "Tree walk")

const methodRoot message.MethodID = 0

const (
	methodNthChild message.MethodID = iota
	methodGetValue
)

type treeNode struct {
	value    int32
	children []*treeNode
}

func defaultTree() *treeNode {
	return &treeNode{
		value: 0,
		children: []*treeNode{
			{value: 1},
			{value: 2},
		},
	}
}

type treeService struct {
	vc   codec.Codec
	root *treeNode
}

func newTreeService(vc codec.Codec) server.Factory {
	return func() server.Service { return &treeService{vc: vc, root: defaultTree()} }
}

func (t *treeService) Close() error { return nil }

func (t *treeService) Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error) {
	switch mid {
	case methodRoot:
		child := &nodeService{vc: t.vc, node: t.root}
		childID := reg.Register(child, guard)
		return message.Service(childID), nil
	default:
		panic("treeService: unknown method id")
	}
}

type nodeService struct {
	vc   codec.Codec
	node *treeNode
}

func (n *nodeService) Close() error { return nil }

func (n *nodeService) Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error) {
	switch mid {
	case methodGetValue:
		b, err := n.vc.Encode(n.node.value)
		if err != nil {
			return message.ReturnValue{}, err
		}
		return message.Data(b), nil
	case methodNthChild:
		var idx int32
		if err := n.vc.Decode(args, &idx); err != nil {
			return message.ReturnValue{}, err
		}
		if int(idx) < 0 || int(idx) >= len(n.node.children) {
			panic("nodeService: invalid child index")
		}
		child := &nodeService{vc: n.vc, node: n.node.children[idx]}
		childID := reg.Register(child, guard)
		return message.Service(childID), nil
	default:
		panic("nodeService: unknown method id")
	}
}
