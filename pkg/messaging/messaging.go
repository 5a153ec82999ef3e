// Package messaging defines the cluster-messaging service consumed by the
// partition-group manager (spec §6): subject-based request/response with
// typed codecs, addressed by member id. The byte-oriented Service is the
// transport contract; Subscribe and Send are generic helpers that layer
// typed encode/decode functions over it, mirroring
// ClusterCommunicationService.subscribe/send in the source this module was
// distilled from.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirimatin/atomix-partition-group/pkg/clusterid"
)

// Failure classifies why a Send failed, so callers can apply the retry
// policy in spec §4.5/§4.8 without string-matching error messages.
type Failure int

const (
	// FailureNone is the zero value; never attached to a returned error.
	FailureNone Failure = iota
	// FailureNoRemoteHandler means the peer has no subscriber for the subject.
	FailureNoRemoteHandler
	// FailureTimeout means the request did not complete before its deadline.
	FailureTimeout
	// FailureTransport is any other transport-level failure.
	FailureTransport
)

// Error wraps a transport failure with its Failure classification.
type Error struct {
	Kind Failure
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("messaging: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the given classification.
func NewError(kind Failure, err error) *Error { return &Error{Kind: kind, Err: err} }

// IsNoRemoteHandler reports whether err (or a wrapped cause) indicates the
// target had no subscriber for the subject.
func IsNoRemoteHandler(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == FailureNoRemoteHandler
}

// IsTimeout reports whether err (or a wrapped cause) indicates the request
// timed out waiting for a reply.
func IsTimeout(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == FailureTimeout
}

// HandlerFunc processes a subscribed subject's raw request payload and
// returns the raw reply payload.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Service is the cluster-messaging collaborator consumed by the
// partition-group manager.
type Service interface {
	// Subscribe registers handler to answer requests sent to subject.
	Subscribe(subject string, handler HandlerFunc) error
	// Unsubscribe removes any handler registered for subject.
	Unsubscribe(subject string) error
	// Send delivers payload to subject on target and returns its reply.
	Send(ctx context.Context, subject string, payload []byte, target clusterid.MemberID) ([]byte, error)
}

// Subscribe layers typed decode/handle/encode functions over svc.Subscribe,
// mirroring messagingService.subscribe(subject, decodeRequest, handler,
// encodeReply, context).
func Subscribe[Req, Resp any](svc Service, subject string, decode func([]byte) (Req, error), handler func(context.Context, Req) (Resp, error), encode func(Resp) ([]byte, error)) error {
	return svc.Subscribe(subject, func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := decode(payload)
		if err != nil {
			return nil, fmt.Errorf("messaging: decode request: %w", err)
		}
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, err
		}
		return encode(resp)
	})
}

// Send layers typed encode/decode functions over svc.Send, mirroring
// messagingService.send(subject, payload, encoder, decoder, targetMemberId).
func Send[Req, Resp any](ctx context.Context, svc Service, subject string, req Req, encode func(Req) ([]byte, error), decode func([]byte) (Resp, error), target clusterid.MemberID) (Resp, error) {
	var zero Resp
	payload, err := encode(req)
	if err != nil {
		return zero, fmt.Errorf("messaging: encode request: %w", err)
	}
	raw, err := svc.Send(ctx, subject, payload, target)
	if err != nil {
		return zero, err
	}
	resp, err := decode(raw)
	if err != nil {
		return zero, fmt.Errorf("messaging: decode reply: %w", err)
	}
	return resp, nil
}
