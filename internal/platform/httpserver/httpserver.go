package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server for the assessment API. Assessments run several
// model calls, so the write timeout follows the request timeout.
func New(addr string, handler http.Handler, requestTimeout time.Duration) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if requestTimeout > 0 {
		srv.WriteTimeout = requestTimeout + 10*time.Second
	}
	return srv
}
