package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/amirimatin/atomix-partition-group/pkg/clusterid"
	"github.com/amirimatin/atomix-partition-group/pkg/messaging"
)

func startTransport(t *testing.T, resolver AddressResolver) *Transport {
	t.Helper()
	tr := New("127.0.0.1:0", resolver)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Allow the listener goroutine to bind before returning.
	time.Sleep(20 * time.Millisecond)
	return tr
}

func TestTransportSendReceive(t *testing.T) {
	var serverAddr string
	resolver := func(id clusterid.MemberID) (string, bool) {
		if id == "server" {
			return serverAddr, true
		}
		return "", false
	}

	server := startTransport(t, resolver)
	defer func() { _ = server.Stop(context.Background()) }()
	serverAddr = server.Addr()

	client := startTransport(t, resolver)
	defer func() { _ = client.Stop(context.Background()) }()

	if err := server.Subscribe("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
		out := append([]byte("echo:"), payload...)
		return out, nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	reply, err := client.Send(ctx, "echo", []byte("hi"), "server")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(reply) != "echo:hi" {
		t.Fatalf("reply = %q, want echo:hi", reply)
	}
}

func TestTransportNoRemoteHandler(t *testing.T) {
	var serverAddr string
	resolver := func(id clusterid.MemberID) (string, bool) {
		if id == "server" {
			return serverAddr, true
		}
		return "", false
	}

	server := startTransport(t, resolver)
	defer func() { _ = server.Stop(context.Background()) }()
	serverAddr = server.Addr()

	client := startTransport(t, resolver)
	defer func() { _ = client.Stop(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := client.Send(ctx, "nobody-subscribed", []byte("hi"), "server")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !messaging.IsNoRemoteHandler(err) {
		t.Fatalf("expected FailureNoRemoteHandler, got %v", err)
	}
}

func TestTransportUnknownTarget(t *testing.T) {
	resolver := func(id clusterid.MemberID) (string, bool) { return "", false }
	client := startTransport(t, resolver)
	defer func() { _ = client.Stop(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.Send(ctx, "echo", []byte("hi"), "ghost")
	if err == nil {
		t.Fatalf("expected error")
	}
}
