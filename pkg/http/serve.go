package xhttp

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/valyala/fasthttp"
)

type RequestHeader = fasthttp.RequestHeader
type ResponseHeader = fasthttp.ResponseHeader
type Server = fasthttp.Server

// ServerOption carries the fasthttp knobs the services tune.
type ServerOption struct {
	Name string

	// idle keep-alive connections are closed after this; long values exhaust file descriptors
	IdleTimeout time.Duration

	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration

	// request bodies larger than this are rejected before routing
	MaxRequestBodySize int

	// handlers running longer than this answer 408
	RequestTimeout time.Duration

	// ReadBufferSize also caps the request header size.
	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Concurrency     int
	MaxConnsPerIP   int

	Logger logger.Logger
}

var DefaultServerOption = ServerOption{
	Name:                  "points-ledger",
	IdleTimeout:           10 * time.Second,
	MaxIdleWorkerDuration: time.Minute,
	TCPKeepalivePeriod:    2 * time.Hour,
	MaxRequestBodySize:    1 << 20,
	RequestTimeout:        5 * time.Second,
	ReadBufferSize:        4 << 10,
	WriteBufferSize:       4 << 10,
	ReadTimeout:           2500 * time.Millisecond,
	WriteTimeout:          2500 * time.Millisecond,
	Concurrency:           30_000,
	MaxConnsPerIP:         10_000,
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func NewServer(options ServerOption) *Engine {
	if options.Logger == nil {
		options.Logger = logger.GetLogger()
	}
	return &Engine{
		Server: newServer(options),
		Router: NewRouter(),
		option: options,
	}
}

// CreateServer returns an engine with the default options and router.
func CreateServer() *Engine {
	s := NewServer(DefaultServerOption)
	s.Router = CreateDefaultRouter()
	return s
}

func newServer(o ServerOption) *fasthttp.Server {
	return &fasthttp.Server{
		Name:                         o.Name,
		Concurrency:                  o.Concurrency,
		ReadBufferSize:               o.ReadBufferSize,
		WriteBufferSize:              o.WriteBufferSize,
		ReadTimeout:                  o.ReadTimeout,
		WriteTimeout:                 o.WriteTimeout,
		IdleTimeout:                  o.IdleTimeout,
		MaxConnsPerIP:                o.MaxConnsPerIP,
		MaxIdleWorkerDuration:        o.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:           o.TCPKeepalivePeriod,
		MaxRequestBodySize:           o.MaxRequestBodySize,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
		NoDefaultContentType:         true,
		CloseOnShutdown:              true,
		Logger:                       o.Logger,
		ErrorHandler: func(ctx *RequestCtx, err error) {
			logger.Warn("[xhttp] request error", "error", err, "ip", ctx.RemoteIP().String())
			ctx.Error(StatusText(StatusBadRequest), StatusBadRequest)
		},
	}
}

func (e *Engine) Options() ServerOption {
	return e.option
}

// Use appends middleware; the first registered runs outermost.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Handler builds the routed handler wrapped in the registered middleware.
func (e *Engine) Handler() RequestHandler {
	h := e.Router.Handler
	mws := slices.Clone(e.middle)
	slices.Reverse(mws)
	for _, m := range mws {
		h = m(h)
	}
	return h
}

func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route registered", "method", method, "path", r)
		}
	}
	for i, m := range e.middle {
		logger.Debug("[xhttp] middleware registered", "order", i+1, "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = e.Handler()
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (e *Engine) Serve(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- e.ListenAndServe(addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("[xhttp] server is shutting down", "addr", addr)
	if err := e.Server.Shutdown(); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
