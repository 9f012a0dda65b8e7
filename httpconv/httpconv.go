// Package httpconv provides HTTP transport integration for conversa
// conversations.
//
// The middleware creates a unit of work per request and runs the three-phase
// propagation protocol around the handler chain: the inbound conversation id
// is read from a request header, the outbound id is written to a response
// header before the first byte is flushed, and cleanup runs unconditionally
// when the request completes.
//
// Example usage:
//
//	container, _ := collection.Build()
//
//	r := chi.NewRouter()
//	r.Use(httpconv.Middleware(container))
//
//	r.Post("/checkout", checkoutHandler)
package httpconv

import (
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/sreksten/conversa"
)

const (
	// DefaultIDHeader carries the conversation id in both directions.
	DefaultIDHeader = "X-Conversation-ID"

	// DefaultEndHeader asks for the current conversation to be terminated
	// when set to a true value on the request.
	DefaultEndHeader = "X-Conversation-End"
)

// Config holds the configuration for the conversation middleware.
type Config struct {
	// IDHeader is the header carrying the conversation id.
	IDHeader string

	// EndHeader is the request header signaling conversation termination.
	EndHeader string

	// ScopeContext is the optional external collaborator kept in sync with
	// the current conversation.
	ScopeContext conversa.ScopeContext

	// SessionFromRequest optionally extracts a session id from the request,
	// wired into the work context for session-scoped bindings. If nil, no
	// session id is attached.
	SessionFromRequest func(*http.Request) string
}

// Option configures the conversation middleware.
type Option func(*Config)

// WithIDHeader overrides the conversation id header.
func WithIDHeader(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.IDHeader = name
		}
	}
}

// WithEndHeader overrides the end-conversation header.
func WithEndHeader(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.EndHeader = name
		}
	}
}

// WithScopeContext sets the external scope context collaborator.
func WithScopeContext(sc conversa.ScopeContext) Option {
	return func(c *Config) {
		c.ScopeContext = sc
	}
}

// WithSessionFromRequest sets the session id extractor.
func WithSessionFromRequest(f func(*http.Request) string) Option {
	return func(c *Config) {
		c.SessionFromRequest = f
	}
}

// ConfigFromEnv reads middleware options from the environment, loading the
// given .env files first (default ".env"; a missing file is not an error).
//
// Recognized variables:
//
//	CONVERSA_CONVERSATION_HEADER
//	CONVERSA_END_HEADER
func ConfigFromEnv(envFiles ...string) []Option {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	var opts []Option
	if v := os.Getenv("CONVERSA_CONVERSATION_HEADER"); v != "" {
		opts = append(opts, WithIDHeader(v))
	}
	if v := os.Getenv("CONVERSA_END_HEADER"); v != "" {
		opts = append(opts, WithEndHeader(v))
	}
	return opts
}

func defaultConfig() *Config {
	return &Config{
		IDHeader:  DefaultIDHeader,
		EndHeader: DefaultEndHeader,
	}
}

// Middleware creates an http middleware that runs the conversation
// propagation protocol around each request. A fresh unit of work is attached
// to the request context; handlers resolve conversation-scoped bindings
// through that context.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(httpconv.Middleware(container))
func Middleware(container *conversa.Container, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	propagator := container.NewPropagator(cfg.ScopeContext)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := conversa.NewWork(r.Context())
			if cfg.SessionFromRequest != nil {
				if id := cfg.SessionFromRequest(r); id != "" {
					ctx = conversa.WithSession(ctx, id)
				}
			}
			r = r.WithContext(ctx)

			car := &headerCarrier{request: r, response: w, config: cfg}

			propagator.HandleIncoming(ctx, car)
			defer propagator.Complete(ctx, car)

			// The outbound id must be on the wire before the first byte of
			// the body, so HandleOutgoing runs just before the first write.
			ww := &outgoingWriter{
				ResponseWriter: w,
				beforeWrite:    func() { propagator.HandleOutgoing(ctx, car) },
			}

			next.ServeHTTP(ww, r)

			// Handler wrote nothing: headers flush when we return.
			ww.ensure()
		})
	}
}

// NewRouter returns a chi router with the conversation middleware and the
// usual request plumbing (request id, real ip, panic recovery) mounted.
func NewRouter(container *conversa.Container, opts ...Option) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Middleware(container, opts...))
	return r
}

// headerCarrier implements conversa.Carrier over an HTTP exchange.
type headerCarrier struct {
	request  *http.Request
	response http.ResponseWriter
	config   *Config
}

func (c *headerCarrier) ConversationID() string {
	return c.request.Header.Get(c.config.IDHeader)
}

func (c *headerCarrier) SetConversationID(id string) {
	c.response.Header().Set(c.config.IDHeader, id)
}

func (c *headerCarrier) ShouldEndConversation() bool {
	v := c.request.Header.Get(c.config.EndHeader)
	if v == "" {
		return false
	}
	end, err := strconv.ParseBool(v)
	return err == nil && end
}

// outgoingWriter defers header mutation until just before the response
// commits.
type outgoingWriter struct {
	http.ResponseWriter
	beforeWrite func()
	done        bool
}

func (w *outgoingWriter) ensure() {
	if !w.done {
		w.done = true
		w.beforeWrite()
	}
}

func (w *outgoingWriter) WriteHeader(status int) {
	w.ensure()
	w.ResponseWriter.WriteHeader(status)
}

func (w *outgoingWriter) Write(b []byte) (int, error) {
	w.ensure()
	return w.ResponseWriter.Write(b)
}

// Unwrap supports http.ResponseController.
func (w *outgoingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
