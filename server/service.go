package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"daemon-rpc/async"
	"daemon-rpc/message"
)

// Handler serves one method. It returns the pending outcome of the call; a
// *message.Error outcome keeps its code, any other error becomes an internal
// error.
type Handler func(ctx context.Context, params message.Params) *async.Future[any]

// Func adapts a plain function to a Handler. fn runs on the calling goroutine.
func Func(fn func(ctx context.Context, params message.Params) (any, error)) Handler {
	return func(ctx context.Context, params message.Params) *async.Future[any] {
		v, err := fn(ctx, params)
		if err != nil {
			return async.Failed[any](err)
		}
		return async.Resolved(v)
	}
}

// Method is one entry of the registration table.
type Method struct {
	Name    string // matched exactly and case-sensitively
	Summary string // one line shown by "help" without arguments
	Detail  string // full text shown by "help <name>"
	Handler Handler
}

// HelpEntry is the introspection view of a registered method.
type HelpEntry struct {
	Method  string
	Summary string
	Detail  string
}

// State is a step of a request's trip through the dispatcher.
type State int

const (
	Received State = iota
	Resolving
	Dispatched
	AwaitingHandler
	Completed
	UnknownMethod
)

var stateNames = [...]string{"received", "resolving", "dispatched", "awaiting_handler", "completed", "unknown_method"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HelpMethod is the name of the built-in introspection method.
const HelpMethod = "help"

// Service is an immutable method table plus the dispatcher that serves it.
type Service struct {
	methods  map[string]Method
	help     []HelpEntry // sorted by name, help included
	helpText string
	fallback Handler
	trace    func(req *message.Request, s State)
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFallback installs a catch-all for names missing from the table.
func WithFallback(h Handler) ServiceOption {
	return func(s *Service) { s.fallback = h }
}

// WithTrace observes each dispatcher state transition.
func WithTrace(fn func(req *message.Request, s State)) ServiceOption {
	return func(s *Service) { s.trace = fn }
}

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService builds the table. Names must be non-empty and unique, and "help"
// is reserved for the built-in.
func NewService(methods []Method, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		methods: make(map[string]Method, len(methods)+1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, m := range methods {
		switch {
		case m.Name == "":
			return nil, errors.New("rpc: method name must not be empty")
		case m.Name == HelpMethod:
			return nil, errors.New("rpc: help is built in and cannot be registered")
		case m.Handler == nil:
			return nil, fmt.Errorf("rpc: method %s has no handler", m.Name)
		}
		if _, dup := s.methods[m.Name]; dup {
			return nil, fmt.Errorf("rpc: method %s registered twice", m.Name)
		}
		s.methods[m.Name] = m
	}
	s.methods[HelpMethod] = Method{
		Name:    HelpMethod,
		Summary: "help ( \"command\" )",
		Detail:  "help ( \"command\" )\n\nList all commands, or get help for a specified command.",
		Handler: Func(s.serveHelp),
	}

	for _, m := range s.methods {
		s.help = append(s.help, HelpEntry{Method: m.Name, Summary: m.Summary, Detail: m.Detail})
	}
	sort.Slice(s.help, func(i, j int) bool { return s.help[i].Method < s.help[j].Method })

	lines := make([]string, len(s.help))
	for i, e := range s.help {
		lines[i] = e.Method
		if e.Summary != "" {
			lines[i] = e.Summary
		}
	}
	s.helpText = strings.Join(lines, "\n")
	return s, nil
}

// Help returns every entry sorted by method name.
func (s *Service) Help() []HelpEntry {
	return append([]HelpEntry(nil), s.help...)
}

// Lookup finds a registered method by exact name.
func (s *Service) Lookup(name string) (Method, bool) {
	m, ok := s.methods[name]
	return m, ok
}

func (s *Service) serveHelp(_ context.Context, params message.Params) (any, error) {
	if params.Len() == 0 {
		return s.helpText, nil
	}
	var (
		name string
		ok   bool
		err  error
	)
	if params.IsNamed() {
		ok, err = params.Field("command", &name)
	} else {
		ok, err = params.Arg(0, &name)
	}
	if err != nil || !ok {
		return nil, message.ErrInvalidParams("command must be a string")
	}
	m, found := s.methods[name]
	if !found {
		return "help: unknown command: " + name, nil
	}
	if m.Detail != "" {
		return m.Detail, nil
	}
	if m.Summary != "" {
		return m.Summary, nil
	}
	return m.Name, nil
}

func (s *Service) step(req *message.Request, st State) {
	if s.trace != nil {
		s.trace(req, st)
	}
}

// Dispatch resolves req against the table, runs its handler and builds the
// reply. It always returns a response; handler failures and panics are turned
// into error envelopes.
func (s *Service) Dispatch(ctx context.Context, req *message.Request) (resp *message.Response) {
	s.step(req, Received)
	defer func() {
		if resp != nil {
			resp.Version = req.Version
		}
	}()

	s.step(req, Resolving)
	h := s.resolve(req.Method)
	if h == nil {
		s.step(req, UnknownMethod)
		return message.NewErrorResponse(req.ID, message.ErrMethodNotFound(req.Method))
	}

	s.step(req, Dispatched)
	v, err := s.invoke(ctx, req, h)
	s.step(req, Completed)
	if err != nil {
		return message.NewErrorResponse(req.ID, s.toRPCError(req, err))
	}

	resp, err = message.NewResult(req.ID, v)
	if err != nil {
		return message.NewErrorResponse(req.ID, s.toRPCError(req, fmt.Errorf("encode result: %w", err)))
	}
	return resp
}

func (s *Service) resolve(name string) Handler {
	if m, ok := s.methods[name]; ok {
		return m.Handler
	}
	return s.fallback
}

// invoke runs the handler, recovering a panic raised while it builds its
// future as well as one raised inside an async.Go body.
func (s *Service) invoke(ctx context.Context, req *message.Request, h Handler) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &async.PanicError{Value: r}
		}
	}()
	f := h(ctx, req.Params)
	if f == nil {
		return nil, fmt.Errorf("handler for %s returned no result", req.Method)
	}
	s.step(req, AwaitingHandler)
	return f.Await(ctx)
}

func (s *Service) toRPCError(req *message.Request, err error) *message.Error {
	var rpcErr *message.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	s.logger.Error("rpc handler failed",
		slog.String("method", req.Method),
		slog.String("id", req.ID.String()),
		slog.String("err", err.Error()))
	return message.ErrInternal(err)
}
