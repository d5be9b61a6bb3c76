// Package tokenlyfiber provides a Fiber middleware for goTokenly.
//
// The middleware stamps the session token held by a tokenly.SessionAction onto
// the incoming request before the next handler sees it, so a Fiber app acting as
// a forwarding proxy sends authenticated requests upstream.
//
// On success, the tokenly.ActionResult is stored in c.Locals("tokenly").
// On failure, a 502 JSON response is returned.
//
// Concurrency: All exported functions are safe for concurrent use.
package tokenlyfiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goTokenly/adapters/common"
	tokenlyfasthttp "github.com/keksclan/goTokenly/adapters/fasthttp"
	"github.com/keksclan/goTokenly/tokenly"
)

// LocalsKey is the key under which the tokenly.ActionResult is stored in c.Locals.
const LocalsKey = "tokenly"

// MacroSource returns the exchanges of the macro run for the current request.
type MacroSource func(c *fiber.Ctx) []tokenly.Exchange

// Option configures the Fiber middleware.
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

// Middleware returns a Fiber middleware that stamps the token held by action onto
// every request.
func Middleware(action tokenly.SessionAction, opts ...Option) fiber.Handler {
	o := buildOptions(opts)
	return func(c *fiber.Ctx) error {
		var macros []tokenly.Exchange
		if o.macros != nil {
			macros = o.macros(c)
		}

		result, err := tokenlyfasthttp.Stamp(c.UserContext(), action, c.Request(), macros)
		if err != nil {
			if o.FailOpen {
				return c.Next()
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals(LocalsKey, result)
		return c.Next()
	}
}

// ResultFromCtx retrieves the tokenly.ActionResult stored by the middleware.
func ResultFromCtx(c *fiber.Ctx) *tokenly.ActionResult {
	v, _ := c.Locals(LocalsKey).(*tokenly.ActionResult)
	return v
}
