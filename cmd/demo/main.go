// Command demo runs one of the worked examples from the original rusty_rpc
// schemas (spec §8 S1-S3) end to end: it starts a server, dials it as a
// client, drives the exact call sequence the schema's scenario describes,
// and checks the results, the same way the Rust examples' client.rs did.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/bx-d/nestrpc/client"
	"github.com/bx-d/nestrpc/codec"
	"github.com/bx-d/nestrpc/server"
)

func main() {
	scenario := flag.String("scenario", "hello-world", "hello-world | parent-child | tree")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "demo", Level: hclog.Info})
	vc := codec.Get(codec.TypeMsgpack)

	var factory server.Factory
	var run func(root *client.Proxy) error

	switch *scenario {
	case "hello-world":
		factory = newHelloWorldService(vc)
		run = runHelloWorld
	case "parent-child":
		factory = newParentService(vc)
		run = runParentChild
	case "tree":
		factory = newTreeService(vc)
		run = runTree
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *scenario)
		os.Exit(2)
	}

	addr, stop := startDemoServer(factory, logger)
	defer stop()

	root, err := client.Dial("tcp", addr, vc)
	if err != nil {
		fatal(err)
	}

	if err := run(root); err != nil {
		fatal(err)
	}

	fmt.Println("Client done successfully!")
}

func startDemoServer(factory server.Factory, logger hclog.Logger) (addr string, stop func()) {
	svr := server.New(factory, server.WithLogger(logger))

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fatal(err)
	}
	addr = probe.Addr().String()
	probe.Close()

	go svr.Serve("tcp", addr)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return addr, func() { svr.Shutdown(time.Second) }
}

func runHelloWorld(root *client.Proxy) error {
	var fooResult int32
	if err := root.Call(methodFoo, struct{}{}, &fooResult); err != nil {
		return err
	}
	mustEqual("foo()", int32(123), fooResult)

	var barResult int32
	if err := root.Call(methodBar, int32(2), &barResult); err != nil {
		return err
	}
	mustEqual("bar(2)", int32(2), barResult)

	var bazResult Foo
	args := bazArgs{A1: 900, A2: Foo{X: 80, Y: Bar{Z: 7}}}
	if err := root.Call(methodBaz, args, &bazResult); err != nil {
		return err
	}
	mustEqual("baz(...).x", int32(987), bazResult.X)
	mustEqual("baz(...).y.z", int32(987), bazResult.Y.Z)

	return root.Close()
}

func runParentChild(parent *client.Proxy) error {
	var got int32
	if err := parent.Call(methodGet, struct{}{}, &got); err != nil {
		return err
	}
	mustEqual("get()", int32(123), got)

	c1, err := parent.CallService(methodChild, struct{}{})
	if err != nil {
		return err
	}
	var set1 int32
	if err := c1.Call(methodSet, int32(456), &set1); err != nil {
		return err
	}
	if err := c1.Close(); err != nil {
		return err
	}

	if err := parent.Call(methodGet, struct{}{}, &got); err != nil {
		return err
	}
	mustEqual("get() after c1", int32(456), got)

	c2, err := parent.CallService(methodChild, struct{}{})
	if err != nil {
		return err
	}
	var set2 int32
	if err := c2.Call(methodSet, int32(789), &set2); err != nil {
		return err
	}
	if err := c2.Close(); err != nil {
		return err
	}

	if err := parent.Call(methodGet, struct{}{}, &got); err != nil {
		return err
	}
	mustEqual("get() after c2", int32(789), got)

	return parent.Close()
}

func runTree(tree *client.Proxy) error {
	node0, err := tree.CallService(methodRoot, struct{}{})
	if err != nil {
		return err
	}
	var v int32
	if err := node0.Call(methodGetValue, struct{}{}, &v); err != nil {
		return err
	}
	mustEqual("node0.get_value()", int32(0), v)

	node1, err := node0.CallService(methodNthChild, int32(0))
	if err != nil {
		return err
	}
	if err := node1.Call(methodGetValue, struct{}{}, &v); err != nil {
		return err
	}
	mustEqual("node1.get_value()", int32(1), v)
	if err := node1.Close(); err != nil {
		return err
	}

	node2, err := node0.CallService(methodNthChild, int32(1))
	if err != nil {
		return err
	}
	if err := node2.Call(methodGetValue, struct{}{}, &v); err != nil {
		return err
	}
	mustEqual("node2.get_value()", int32(2), v)
	if err := node2.Close(); err != nil {
		return err
	}

	if err := node0.Close(); err != nil {
		return err
	}
	return tree.Close()
}

func mustEqual[T comparable](label string, want, got T) {
	if want != got {
		fatal(fmt.Errorf("%s: want %v, got %v", label, want, got))
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
