package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"roomno4/internal/logger"
)

// RequestLogger logs every served request through the category logger.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			duration := time.Since(start).String()
			if status >= 500 {
				log.Error("API", fmt.Sprintf("%s %s - %d (%s)", r.Method, r.URL.Path, status, duration))
			} else if status >= 400 {
				log.Warn("API", fmt.Sprintf("%s %s - %d (%s)", r.Method, r.URL.Path, status, duration))
			} else {
				log.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("%d", status), duration)
			}
		})
	}
}
