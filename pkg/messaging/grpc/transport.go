// Package grpc backs the cluster-messaging service (pkg/messaging) with a
// single hand-written gRPC method carrying a subject+payload envelope,
// avoiding protobuf codegen the way the JSON-codec management service this
// transport was adapted from does.
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/amirimatin/atomix-partition-group/pkg/clusterid"
	"github.com/amirimatin/atomix-partition-group/pkg/messaging"
	obsmetrics "github.com/amirimatin/atomix-partition-group/pkg/observability/metrics"
	"github.com/amirimatin/atomix-partition-group/pkg/observability/tracing"
)

// AddressResolver maps a member id to a dialable host:port. It is typically
// backed by a membership.Service's member list.
type AddressResolver func(id clusterid.MemberID) (string, bool)

// Transport implements messaging.Service over gRPC.
type Transport struct {
	bind     string
	resolver AddressResolver
	timeout  time.Duration

	mu       sync.RWMutex
	handlers map[string]messaging.HandlerFunc

	lis net.Listener
	srv *grpc.Server
	cm  *connManager
}

// New constructs a gRPC-backed messaging transport. bind is the listen
// address; resolver translates a target member id to a dialable address.
func New(bind string, resolver AddressResolver) *Transport {
	return &Transport{
		bind:     bind,
		resolver: resolver,
		timeout:  5 * time.Second,
		handlers: make(map[string]messaging.HandlerFunc),
	}
}

// WithTimeout overrides the default per-request timeout.
func (t *Transport) WithTimeout(d time.Duration) *Transport {
	if d > 0 {
		t.timeout = d
	}
	return t
}

// Start binds the listener and serves the dispatch RPC until ctx is done.
func (t *Transport) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", t.bind)
	if err != nil {
		return fmt.Errorf("messaging/grpc: listen %s: %w", t.bind, err)
	}
	t.lis = lis

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
	}
	srv := grpc.NewServer(opts...)
	t.srv = srv
	srv.RegisterService(&dispatchServiceDesc, &dispatchImpl{t: t})

	t.cm = newConnManager(30*time.Second, t.dial)

	go func() {
		<-ctx.Done()
		ch := make(chan struct{})
		go func() { srv.GracefulStop(); close(ch) }()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			srv.Stop()
		}
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}

// Addr returns the bound listen address.
func (t *Transport) Addr() string {
	if t.lis != nil {
		return t.lis.Addr().String()
	}
	return t.bind
}

// Stop gracefully shuts down the server and closes cached connections.
func (t *Transport) Stop(ctx context.Context) error {
	if t.cm != nil {
		t.cm.close()
	}
	if t.srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { t.srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		t.srv.Stop()
	}
	t.srv = nil
	if t.lis != nil {
		_ = t.lis.Close()
		t.lis = nil
	}
	return nil
}

func (t *Transport) dial(ctx context.Context, target string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}
	return grpc.DialContext(ctx, target, opts...)
}

// Subscribe registers handler for subject.
func (t *Transport) Subscribe(subject string, handler messaging.HandlerFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[subject] = handler
	obsmetrics.MessagingHandlers.Set(float64(len(t.handlers)))
	return nil
}

// Unsubscribe removes any handler registered for subject.
func (t *Transport) Unsubscribe(subject string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, subject)
	obsmetrics.MessagingHandlers.Set(float64(len(t.handlers)))
	return nil
}

// Send delivers payload to subject on target and returns its reply.
func (t *Transport) Send(ctx context.Context, subject string, payload []byte, target clusterid.MemberID) ([]byte, error) {
	addr, ok := t.resolver(target)
	if !ok {
		obsmetrics.MessagingSendTotal.WithLabelValues(subject, "error").Inc()
		return nil, messaging.NewError(messaging.FailureTransport, fmt.Errorf("messaging/grpc: no address for member %q", target))
	}

	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	cctx, end := tracing.StartSpan(cctx, "messaging.send."+subject)
	defer end()

	cc, release, err := t.cm.get(cctx, addr)
	if err != nil {
		obsmetrics.MessagingSendTotal.WithLabelValues(subject, "error").Inc()
		return nil, messaging.NewError(messaging.FailureTransport, err)
	}
	defer release()

	req := &dispatchRequest{Subject: subject, Payload: payload}
	resp := new(dispatchResponse)
	if err := cc.Invoke(cctx, dispatchMethod, req, resp); err != nil {
		kind, result := classify(err)
		obsmetrics.MessagingSendTotal.WithLabelValues(subject, result).Inc()
		return nil, messaging.NewError(kind, err)
	}
	obsmetrics.MessagingSendTotal.WithLabelValues(subject, "ok").Inc()
	return resp.Payload, nil
}

func classify(err error) (messaging.Failure, string) {
	st, ok := status.FromError(err)
	if !ok {
		return messaging.FailureTransport, "error"
	}
	switch st.Code() {
	case codes.NotFound, codes.Unimplemented:
		return messaging.FailureNoRemoteHandler, "no_remote_handler"
	case codes.DeadlineExceeded, codes.Unavailable:
		return messaging.FailureTimeout, "timeout"
	default:
		return messaging.FailureTransport, "error"
	}
}

var _ messaging.Service = (*Transport)(nil)
