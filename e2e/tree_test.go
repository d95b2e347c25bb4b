package e2e

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bx-d/nestrpc/codec"
	"github.com/bx-d/nestrpc/message"
	"github.com/bx-d/nestrpc/registry"
	"github.com/bx-d/nestrpc/server"
)

// Schema for spec §8 S3: service TreeService { root() -> &NodeService; }
// service NodeService { nth_child(n: i32) -> &NodeService; get_value() -> i32; }

const methodRoot message.MethodID = 0

const (
	methodNthChild message.MethodID = iota
	methodGetValue
)

type treeNode struct {
	value    int32
	children []*treeNode
}

type treeService struct {
	vc   codec.Codec
	root *treeNode
}

func (t *treeService) Close() error { return nil }

func (t *treeService) Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error) {
	if mid != methodRoot {
		panic("treeService: unknown method id")
	}
	child := &nodeService{vc: t.vc, node: t.root}
	childID := reg.Register(child, guard)
	return message.Service(childID), nil
}

type nodeService struct {
	vc   codec.Codec
	node *treeNode
}

func (n *nodeService) Close() error { return nil }

func (n *nodeService) Dispatch(mid message.MethodID, args []byte, reg *registry.Registry, guard *registry.Guard) (message.ReturnValue, error) {
	switch mid {
	case methodGetValue:
		return encode(n.vc, n.node.value)
	case methodNthChild:
		var idx int32
		if err := n.vc.Decode(args, &idx); err != nil {
			return message.ReturnValue{}, err
		}
		child := &nodeService{vc: n.vc, node: n.node.children[idx]}
		childID := reg.Register(child, guard)
		return message.Service(childID), nil
	default:
		panic("nodeService: unknown method id")
	}
}

// TestTreeWalk reproduces spec §8 S3: nesting safety must hold at every
// level, not just one layer deep.
func TestTreeWalk(t *testing.T) {
	vc := codec.Get(codec.TypeMsgpack)
	tree := &treeNode{value: 0, children: []*treeNode{{value: 1}, {value: 2}}}

	root, stop := dialDemo(t, func() server.Service { return &treeService{vc: vc, root: tree} }, vc)
	defer stop()

	node0, err := root.CallService(methodRoot, struct{}{})
	require.NoError(t, err)

	var v int32
	require.NoError(t, node0.Call(methodGetValue, struct{}{}, &v))
	require.Equal(t, int32(0), v)

	node1, err := node0.CallService(methodNthChild, int32(0))
	require.NoError(t, err)
	require.NoError(t, node1.Call(methodGetValue, struct{}{}, &v))
	require.Equal(t, int32(1), v)
	require.NoError(t, node1.Close())

	node2, err := node0.CallService(methodNthChild, int32(1))
	require.NoError(t, err)
	require.NoError(t, node2.Call(methodGetValue, struct{}{}, &v))
	require.Equal(t, int32(2), v)
	require.NoError(t, node2.Close())

	require.NoError(t, node0.Close())
	require.NoError(t, root.Close())
}
