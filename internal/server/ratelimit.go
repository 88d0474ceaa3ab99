package server

import (
	"container/list"
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	quotaIdleAfter     = 10 * time.Minute
	quotaSweepInterval = 5 * time.Minute
	quotaMaxClients    = 10000
)

// contentSecurityPolicy allows the inline script and style of the edit
// page and the live surface socket. Everything else comes from self.
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self' 'unsafe-inline'",
	"style-src 'self' 'unsafe-inline'",
	"img-src 'self' data: https:",
	"connect-src 'self' ws: wss:",
	"frame-ancestors 'none'",
}, "; ")

var securityHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": contentSecurityPolicy,
}

func (s *Server) secure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

type quotaClient struct {
	addr     string
	bucket   *rate.Limiter
	lastSeen time.Time
}

// previewQuota keeps one token bucket per client address for the preview
// endpoint. At most max clients are tracked; the least recently seen one
// is dropped to make room for a newcomer.
type previewQuota struct {
	limit rate.Limit
	burst int
	max   int

	mu      sync.Mutex
	clients map[string]*list.Element
	recent  *list.List // *quotaClient, most recently seen first
	dropped int
}

func newPreviewQuota(rps float64, burst, max int) *previewQuota {
	if max <= 0 {
		max = quotaMaxClients
	}
	return &previewQuota{
		limit:   rate.Limit(rps),
		burst:   burst,
		max:     max,
		clients: make(map[string]*list.Element),
		recent:  list.New(),
	}
}

// allow spends one token from addr's bucket at now.
func (q *previewQuota) allow(addr string, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if elem, ok := q.clients[addr]; ok {
		q.recent.MoveToFront(elem)
		c := elem.Value.(*quotaClient)
		c.lastSeen = now
		return c.bucket.AllowN(now, 1)
	}

	if q.recent.Len() >= q.max {
		oldest := q.recent.Back()
		q.recent.Remove(oldest)
		delete(q.clients, oldest.Value.(*quotaClient).addr)
		q.dropped++
	}
	c := &quotaClient{addr: addr, bucket: rate.NewLimiter(q.limit, q.burst), lastSeen: now}
	q.clients[addr] = q.recent.PushFront(c)
	return c.bucket.AllowN(now, 1)
}

// sweep forgets clients idle since before now-idle. It reports how many
// were forgotten and how many were dropped for capacity since the last
// sweep.
func (q *previewQuota) sweep(now time.Time, idle time.Duration) (expired, dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Idle clients collect at the back, since the list is in access order.
	for elem := q.recent.Back(); elem != nil; {
		c := elem.Value.(*quotaClient)
		if now.Sub(c.lastSeen) <= idle {
			break
		}
		prev := elem.Prev()
		q.recent.Remove(elem)
		delete(q.clients, c.addr)
		expired++
		elem = prev
	}

	dropped, q.dropped = q.dropped, 0
	return expired, dropped
}

func (q *previewQuota) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.recent.Len()
}

// limitPreviews answers 429 once a client has spent its preview tokens.
func (s *Server) limitPreviews(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.quota.allow(clientAddr(r), s.now()) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sweepQuota runs for the server's lifetime and closes sweeperDone when
// ctx is cancelled by Shutdown.
func (s *Server) sweepQuota(ctx context.Context, every time.Duration) {
	defer close(s.sweeperDone)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, dropped := s.quota.sweep(s.now(), quotaIdleAfter)
			if dropped > 0 {
				s.logger.Warn(ctx, nil, "preview quota at capacity", "dropped", dropped, "max_clients", s.quota.max)
			}
			if expired > 0 {
				s.logger.Debug(ctx, "preview quota swept", "expired", expired, "tracked", s.quota.len())
			}
		}
	}
}

// clientAddr is the address a request is accounted to. Forwarding headers
// are believed only from a loopback or private peer.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return host
	}
	if peer.IsLoopback() || peer.IsPrivate() {
		if fwd := forwardedFor(r.Header); fwd != "" {
			return fwd
		}
	}
	return peer.String()
}

func forwardedFor(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(h.Get("X-Real-IP"))
}
