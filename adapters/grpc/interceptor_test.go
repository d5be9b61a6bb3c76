package tokenlygrpc

import (
	"context"
	"errors"
	"testing"

	"github.com/keksclan/goTokenly/tokenly"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const testMethod = "/orders.v1.Orders/Get"

type failingAction struct{}

func (failingAction) Name() string { return "failing" }

func (failingAction) Handle(context.Context, *tokenly.ActionData) (*tokenly.ActionResult, error) {
	return nil, errors.New("store unavailable")
}

func primedEngine(t *testing.T, token string) *tokenly.Engine {
	t.Helper()
	e, err := tokenly.New(tokenly.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Handle(context.Background(), &tokenly.ActionData{MacroExchanges: []tokenly.Exchange{{
		Response: &tokenly.Response{StatusLine: "HTTP/1.1 200 OK", Body: []byte(`{"access_token":"` + token + `"}`)},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestFromMetadataSortsKeys(t *testing.T) {
	r := FromMetadata(testMethod, metadata.Pairs("x-b", "2", "x-a", "1", "x-a", "1b"))
	if r.Target != testMethod || len(r.Headers) != 3 {
		t.Fatalf("request: %+v", r)
	}
	if r.Headers[0].Name != "x-a" || r.Headers[1].Value != "1b" || r.Headers[2].Name != "x-b" {
		t.Errorf("order: %+v", r.Headers)
	}
}

func TestUnaryClientInterceptorStampsOutgoingMetadata(t *testing.T) {
	e := primedEngine(t, "g-1")
	icpt := UnaryClientInterceptor(e)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "cookie", "sid=42", "x-request-id", "r1")
	var sent metadata.MD
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		sent, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
	if err := icpt(ctx, testMethod, nil, nil, nil, invoker); err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	if got := sent.Get("authorization"); len(got) != 1 || got[0] != "Bearer g-1" {
		t.Errorf("authorization: %v", got)
	}
	if got := sent.Get("cookie"); len(got) != 1 || got[0] != "sid=42; token=g-1" {
		t.Errorf("cookie: %v", got)
	}
	if got := sent.Get("x-request-id"); len(got) != 1 || got[0] != "r1" {
		t.Errorf("unrelated key changed: %v", got)
	}
}

func TestUnaryClientInterceptorMacroSource(t *testing.T) {
	e, err := tokenly.New(tokenly.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	icpt := UnaryClientInterceptor(e, WithMacroSource(func(_ context.Context, method string) []tokenly.Exchange {
		return []tokenly.Exchange{{Response: &tokenly.Response{
			StatusLine: "HTTP/1.1 200 OK",
			Body:       []byte(`{"access_token":"for-` + method + `"}`),
		}}}
	}))

	var sent metadata.MD
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		sent, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
	if err := icpt(context.Background(), "/svc/M", nil, nil, nil, invoker); err != nil {
		t.Fatal(err)
	}
	if got := sent.Get("authorization"); len(got) != 1 || got[0] != "Bearer for-/svc/M" {
		t.Errorf("authorization: %v", got)
	}
}

func TestUnaryClientInterceptorError(t *testing.T) {
	invoked := false
	invoker := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		invoked = true
		return nil
	}

	err := UnaryClientInterceptor(failingAction{})(context.Background(), testMethod, nil, nil, nil, invoker)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
	if invoked {
		t.Error("call must not be sent")
	}

	err = UnaryClientInterceptor(failingAction{}, WithFailOpen(true))(context.Background(), testMethod, nil, nil, nil, invoker)
	if err != nil || !invoked {
		t.Fatalf("fail-open: err=%v invoked=%v", err, invoked)
	}
}

func TestStreamClientInterceptor(t *testing.T) {
	e := primedEngine(t, "g-2")
	var sent metadata.MD
	streamer := func(ctx context.Context, _ *grpc.StreamDesc, _ *grpc.ClientConn, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
		sent, _ = metadata.FromOutgoingContext(ctx)
		return nil, nil
	}
	if _, err := StreamClientInterceptor(e)(context.Background(), &grpc.StreamDesc{}, nil, testMethod, streamer); err != nil {
		t.Fatal(err)
	}
	if got := sent.Get("authorization"); len(got) != 1 || got[0] != "Bearer g-2" {
		t.Errorf("authorization: %v", got)
	}
}

func TestUnaryServerInterceptorStampsIncomingMetadata(t *testing.T) {
	e := primedEngine(t, "g-3")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer old"))

	handler := func(ctx context.Context, _ any) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if got := md.Get("authorization"); len(got) != 1 || got[0] != "Bearer g-3" {
			t.Errorf("authorization: %v", got)
		}
		res := ResultFromContext(ctx)
		if res == nil || res.Source != tokenly.TokenSourceCached || !res.HeaderUpdated {
			t.Errorf("result: %+v", res)
		}
		return "ok", nil
	}

	out, err := UnaryServerInterceptor(e)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: testMethod}, handler)
	if err != nil || out != "ok" {
		t.Fatalf("out=%v err=%v", out, err)
	}
}
