package qadash

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"
)

// limiterClass throttles one group of routes per client address.
type limiterClass struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter

	limit   rate.Limit
	burst   int
	message string
}

func newLimiterClass(max int, window time.Duration, message string) *limiterClass {
	return &limiterClass{
		visitors: map[string]*rate.Limiter{},
		limit:    rate.Every(window / time.Duration(max)),
		burst:    max,
		message:  message,
	}
}

func (c *limiterClass) allow(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.visitors[ip]
	if !ok {
		limiter = rate.NewLimiter(c.limit, c.burst)
		c.visitors[ip] = limiter
	}

	return limiter.Allow()
}

func (s *Server) limit(c *limiterClass, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !c.allow(ip) {
			s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":   "Too many requests",
				"message": c.message,
			})
			return
		}

		next(w, r, p)
	}
}
