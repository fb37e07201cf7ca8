package rpc

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mutualcredit/mcledger/logger"
)

const (
	headerContentType = "Content-Type"
	applicationJson   = "application/json"

	DefaultMaxBodyBytes int64 = 4 << 20
)

type (
	// Registrar registers HTTP handlers of an API group.
	Registrar interface {
		Register(r *mux.Router)
	}

	// RegistrarFunc is an adapter to allow the use of ordinary function as Registrar.
	RegistrarFunc func(r *mux.Router)

	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Logger() *slog.Logger
	}

	/*
	ServerConfiguration of the REST server of the agent. Zero timeout means no
	timeout, see http.Server for the meaning of the timeouts.
	*/
	ServerConfiguration struct {
		// host:port to listen on, the server is not started when empty
		Address           string
		ReadTimeout       time.Duration
		ReadHeaderTimeout time.Duration
		// accepting an offer waits for the counterparty so this must be
		// longer than the request timeout of the agent network
		WriteTimeout time.Duration
		IdleTimeout  time.Duration
		// max size of the request body, DefaultMaxBodyBytes when not positive
		MaxBodyBytes int64
	}
)

func (f RegistrarFunc) Register(r *mux.Router) { f(r) }

func (c *ServerConfiguration) IsAddressEmpty() bool {
	return strings.TrimSpace(c.Address) == ""
}

/*
NewHTTPServer returns server with the handlers of the registrars mounted under
the "/api/v1" prefix. Every request is traced and counted, panics in handlers
are logged and turned into 500 responses.
*/
func NewHTTPServer(conf *ServerConfiguration, obs Observability, registrars ...Registrar) *http.Server {
	log := obs.Logger()
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(http.NotFound)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(
		handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{log}), handlers.PrintRecoveryStack(true)),
		handlers.CORS(handlers.AllowedHeaders([]string{"Accept", "Accept-Language", "Content-Language", "Origin", headerContentType})),
		instrument(obs),
	)
	for _, r := range registrars {
		r.Register(api)
	}

	maxBody := conf.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &http.Server{
		Addr:              conf.Address,
		ReadTimeout:       conf.ReadTimeout,
		ReadHeaderTimeout: conf.ReadHeaderTimeout,
		WriteTimeout:      conf.WriteTimeout,
		IdleTimeout:       conf.IdleTimeout,
		Handler:           http.MaxBytesHandler(router, maxBody),
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
}

// recoveryLogger adapts slog.Logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	log *slog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error("REST handler panicked", logger.Error(fmt.Errorf("%s", fmt.Sprint(v...))))
}
