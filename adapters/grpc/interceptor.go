// Package tokenlygrpc provides gRPC interceptors for goTokenly.
//
// Client interceptors stamp the session token onto outgoing metadata before a call
// leaves the process. Server interceptors do the same for incoming metadata, which
// is what a gRPC gateway forwarding calls upstream needs. The "authorization" and
// "cookie" keys are rewritten according to the action's configuration.
//
// Concurrency: All exported functions are safe for concurrent use.
package tokenlygrpc

import (
	"context"
	"sort"
	"strings"

	"github.com/keksclan/goTokenly/adapters/common"
	"github.com/keksclan/goTokenly/tokenly"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey struct{}

// ResultFromContext retrieves the tokenly.ActionResult stored in the context by a
// server interceptor. Returns nil if no result is present.
func ResultFromContext(ctx context.Context) *tokenly.ActionResult {
	v, _ := ctx.Value(contextKey{}).(*tokenly.ActionResult)
	return v
}

func contextWithResult(ctx context.Context, r *tokenly.ActionResult) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

// MacroSource returns the exchanges of the macro run before the call to method.
type MacroSource func(ctx context.Context, method string) []tokenly.Exchange

// Option configures the gRPC interceptors.
type Option func(*options)

type options struct {
	common.AdapterOptions
	macros MacroSource
}

// WithFailOpen lets calls through unmodified when the engine returns an error.
func WithFailOpen(enabled bool) Option {
	return func(o *options) {
		o.FailOpen = enabled
	}
}

// WithMacroSource sets the function that supplies macro exchanges per call.
func WithMacroSource(src MacroSource) Option {
	return func(o *options) {
		o.macros = src
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FromMetadata builds a tokenly.Request for method from md. Keys are emitted in
// sorted order since metadata.MD carries no ordering.
func FromMetadata(method string, md metadata.MD) tokenly.Request {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r := tokenly.Request{Method: "POST", Target: method, Proto: "HTTP/2"}
	for _, k := range keys {
		for _, v := range md[k] {
			r.Headers = append(r.Headers, tokenly.Header{Name: k, Value: v})
		}
	}
	return r
}

// metadataCarrier writes headers into metadata.MD. gRPC metadata keys are always lower-case.
type metadataCarrier struct {
	md metadata.MD
}

func (c metadataCarrier) Set(key, value string) {
	c.md.Set(strings.ToLower(key), value)
}

// stamp runs action for the call and returns md with the changes applied.
func stamp(ctx context.Context, action tokenly.SessionAction, o *options, method string, md metadata.MD) (metadata.MD, *tokenly.ActionResult, error) {
	var macros []tokenly.Exchange
	if o.macros != nil {
		macros = o.macros(ctx, method)
	}

	before := FromMetadata(method, md)
	res, err := action.Handle(ctx, &tokenly.ActionData{Request: before, MacroExchanges: macros})
	if err != nil {
		if o.FailOpen {
			return md, nil, nil
		}
		return nil, nil, status.Error(codes.Unavailable, err.Error())
	}

	out := md.Copy()
	common.ApplyChanges(metadataCarrier{md: out}, before, res.Request)
	return out, res, nil
}

func stampOutgoing(ctx context.Context, action tokenly.SessionAction, o *options, method string) (context.Context, error) {
	md, _ := metadata.FromOutgoingContext(ctx)
	if md == nil {
		md = metadata.MD{}
	}
	out, _, err := stamp(ctx, action, o, method, md)
	if err != nil {
		return ctx, err
	}
	return metadata.NewOutgoingContext(ctx, out), nil
}

func stampIncoming(ctx context.Context, action tokenly.SessionAction, o *options, method string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if md == nil {
		md = metadata.MD{}
	}
	out, res, err := stamp(ctx, action, o, method, md)
	if err != nil {
		return ctx, err
	}
	ctx = metadata.NewIncomingContext(ctx, out)
	if res != nil {
		ctx = contextWithResult(ctx, res)
	}
	return ctx, nil
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that stamps the
// token held by action onto the outgoing metadata of every call.
//
// On failure, the call is not sent and codes.Unavailable is returned.
func UnaryClientInterceptor(action tokenly.SessionAction, opts ...Option) grpc.UnaryClientInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		newCtx, err := stampOutgoing(ctx, action, &o, method)
		if err != nil {
			return err
		}
		return invoker(newCtx, method, req, reply, cc, callOpts...)
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that stamps the
// token held by action onto the outgoing metadata of every stream.
//
// Behavior is identical to UnaryClientInterceptor but for streaming RPCs.
func StreamClientInterceptor(action tokenly.SessionAction, opts ...Option) grpc.StreamClientInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		callOpts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		newCtx, err := stampOutgoing(ctx, action, &o, method)
		if err != nil {
			return nil, err
		}
		return streamer(newCtx, desc, cc, method, callOpts...)
	}
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that stamps the
// token held by action onto the incoming metadata before the handler runs.
//
// On success, the tokenly.ActionResult is stored in the context and can be retrieved
// with ResultFromContext.
func UnaryServerInterceptor(action tokenly.SessionAction, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		newCtx, err := stampIncoming(ctx, action, &o, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that stamps the
// token held by action onto the incoming metadata before the handler runs.
//
// Behavior is identical to UnaryServerInterceptor but for streaming RPCs.
func StreamServerInterceptor(action tokenly.SessionAction, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		newCtx, err := stampIncoming(ss.Context(), action, &o, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

// wrappedStream overrides the context of a grpc.ServerStream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context carrying the stamped metadata.
func (w *wrappedStream) Context() context.Context { return w.ctx }
