package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", h.Health)
	router.POST("/scrape/:companyId", h.Scrape)

	router.GET("/companies", h.ListCompanies)
	router.GET("/companies/:id", h.GetCompany)
	router.GET("/companies/:id/listings", h.GetCompanyListings)

	router.GET("/runs", h.ListRuns)
	router.GET("/runs/:id/logs", h.GetRunLogs)
	router.POST("/commands", h.EnqueueCommand)

	return router
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
