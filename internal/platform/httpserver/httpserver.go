// Package httpserver runs the kiosk API and metrics listeners.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// DrainTimeout bounds how long Run waits for in-flight requests after its
// context ends. Frame posts in manual capture mode run a collaborator call,
// so it sits well above a typical verification round trip.
const DrainTimeout = 10 * time.Second

// New builds a server for the kiosk. Write timeouts stay unset because
// collaborator calls made inside a request are not bounded.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run serves until ctx ends, then drains in-flight requests for up to
// DrainTimeout. A clean shutdown returns nil.
func Run(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	return err
}
