package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const dispatchMethod = "/partitiongroup.v1.Messaging/Dispatch"

// dispatchRequest carries a subject-addressed payload over the wire.
type dispatchRequest struct {
	Subject string `json:"subject"`
	Payload []byte `json:"payload,omitempty"`
}

// dispatchResponse carries the handler's reply payload.
type dispatchResponse struct {
	Payload []byte `json:"payload,omitempty"`
}

// dispatchServer is the single method this transport exposes.
type dispatchServer interface {
	Dispatch(ctx context.Context, in *dispatchRequest) (*dispatchResponse, error)
}

type dispatchImpl struct{ t *Transport }

func (d *dispatchImpl) Dispatch(ctx context.Context, in *dispatchRequest) (*dispatchResponse, error) {
	d.t.mu.RLock()
	handler, ok := d.t.handlers[in.Subject]
	d.t.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no handler for subject %q", in.Subject)
	}
	reply, err := handler(ctx, in.Payload)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return &dispatchResponse{Payload: reply}, nil
}

var dispatchServiceDesc = grpc.ServiceDesc{
	ServiceName: "partitiongroup.v1.Messaging",
	HandlerType: (*dispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: _Dispatch_Handler},
	},
}

func _Dispatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(dispatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(dispatchServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: dispatchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(dispatchServer).Dispatch(ctx, req.(*dispatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}
