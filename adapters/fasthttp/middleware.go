// Package tokenlyfasthttp connects goTokenly to fasthttp.
//
// It converts fasthttp requests and responses into tokenly values, writes the
// header and cookie changes of an ActionResult back onto a fasthttp.Request, and
// provides a middleware that stamps the current token onto every request that
// passes through a forwarding handler.
//
// On success, the tokenly.ActionResult is stored in the request context's user
// value under the key "tokenly". On failure, a 502 response is returned unless
// the middleware runs fail-open.
//
// Concurrency: All exported functions are safe for concurrent use.
package tokenlyfasthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keksclan/goTokenly/adapters/common"
	"github.com/keksclan/goTokenly/tokenly"
	"github.com/valyala/fasthttp"
)

// ResultUserValueKey is the key used to store the tokenly.ActionResult in the
// fasthttp.RequestCtx user values.
const ResultUserValueKey = "tokenly"

// MacroSource returns the exchanges of the macro run for the current request.
// Returning nil reapplies the engine's cached token.
type MacroSource func(ctx *fasthttp.RequestCtx) []tokenly.Exchange

// Option configures the fasthttp middleware.
type Option func(*options)

type options struct {
	common.AdapterOptions
	macros MacroSource
}

// WithFailOpen lets requests through unmodified when the engine returns an error.
func WithFailOpen(enabled bool) Option {
	return func(o *options) {
		o.FailOpen = enabled
	}
}

// WithMacroSource sets the function that supplies macro exchanges per request.
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

// FromRequest converts req into a tokenly.Request.
func FromRequest(req *fasthttp.Request) tokenly.Request {
	r := tokenly.Request{
		Method: string(req.Header.Method()),
		Target: string(req.Header.RequestURI()),
		Proto:  string(req.Header.Protocol()),
	}
	req.Header.VisitAll(func(key, value []byte) {
		r.Headers = append(r.Headers, tokenly.Header{Name: string(key), Value: string(value)})
	})
	if body := req.Body(); len(body) > 0 {
		r.Body = append([]byte(nil), body...)
	}
	return r
}

// FromResponse converts resp into a tokenly.Response.
func FromResponse(resp *fasthttp.Response) *tokenly.Response {
	code := resp.StatusCode()
	r := &tokenly.Response{
		StatusLine: fmt.Sprintf("HTTP/1.1 %d %s", code, fasthttp.StatusMessage(code)),
	}
	resp.Header.VisitAll(func(key, value []byte) {
		r.Headers = append(r.Headers, tokenly.Header{Name: string(key), Value: string(value)})
	})
	if body := resp.Body(); len(body) > 0 {
		r.Body = append([]byte(nil), body...)
	}
	return r
}

// Exchange pairs req and resp. A nil resp yields an exchange with no response.
func Exchange(req *fasthttp.Request, resp *fasthttp.Response) tokenly.Exchange {
	r := FromRequest(req)
	ex := tokenly.Exchange{Request: &r}
	if resp != nil {
		ex.Response = FromResponse(resp)
	}
	return ex
}

type requestCarrier struct {
	req *fasthttp.Request
}

func (c requestCarrier) Set(key, value string) {
	// RequestHeader.Set appends parsed cookies instead of replacing them.
	if strings.EqualFold(key, "Cookie") {
		c.req.Header.DelAllCookies()
	}
	c.req.Header.Set(key, value)
}

// Apply writes the headers that differ between before and after onto dst.
// It returns the number of headers written.
func Apply(dst *fasthttp.Request, before, after tokenly.Request) int {
	return common.ApplyChanges(requestCarrier{req: dst}, before, after)
}

// Stamp runs action for req with the given macro exchanges and writes the result back to req.
func Stamp(ctx context.Context, action tokenly.SessionAction, req *fasthttp.Request, macros []tokenly.Exchange) (*tokenly.ActionResult, error) {
	before := FromRequest(req)
	res, err := action.Handle(ctx, &tokenly.ActionData{Request: before, MacroExchanges: macros})
	if err != nil {
		return nil, err
	}
	Apply(req, before, res.Request)
	return res, nil
}

// Middleware returns a fasthttp request handler that stamps the action's token onto
// ctx.Request and then calls next.
//
// On success, the tokenly.ActionResult is stored in ctx.SetUserValue("tokenly", result).
// On failure, a 502 JSON response is written, or next is called with the request
// unmodified when WithFailOpen(true) is set.
func Middleware(action tokenly.SessionAction, next fasthttp.RequestHandler, opts ...Option) fasthttp.RequestHandler {
	o := buildOptions(opts)
	return func(ctx *fasthttp.RequestCtx) {
		var macros []tokenly.Exchange
		if o.macros != nil {
			macros = o.macros(ctx)
		}

		result, err := Stamp(context.Background(), action, &ctx.Request, macros)
		if err != nil {
			if o.FailOpen {
				next(ctx)
				return
			}
			writeBadGateway(ctx, err.Error())
			return
		}

		ctx.SetUserValue(ResultUserValueKey, result)
		next(ctx)
	}
}

// ResultFromCtx retrieves the tokenly.ActionResult stored in the request context by the middleware.
// Returns nil if no result is present or the value is not a *tokenly.ActionResult.
func ResultFromCtx(ctx *fasthttp.RequestCtx) *tokenly.ActionResult {
	v, _ := ctx.UserValue(ResultUserValueKey).(*tokenly.ActionResult)
	return v
}

func writeBadGateway(ctx *fasthttp.RequestCtx, msg string) {
	ctx.SetStatusCode(fasthttp.StatusBadGateway)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(map[string]string{"error": msg})
	ctx.SetBody(body)
}
