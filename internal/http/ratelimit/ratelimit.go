package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jw6ventures/esn-calendar/internal/auth"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// Limiter keeps one token bucket per key.
type Limiter struct {
	limiters   map[string]*limiterEntry
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	idle       time.Duration
	maxEntries int
	key        KeyFunc
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a limiter allowing r requests per second with bursts of b per key.
// Buckets idle for twice the cleanup interval are dropped.
func New(r rate.Limit, b int, cleanup time.Duration, key KeyFunc) *Limiter {
	l := &Limiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       r,
		burst:      b,
		idle:       cleanup * 2,
		maxEntries: 10000,
		key:        key,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if cleanup > 0 {
		go l.cleanupLoop(cleanup)
	}
	return l
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxEntries {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

func (l *Limiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range l.limiters {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey, oldest = k, e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(l.limiters, oldestKey)
	}
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	for k, e := range l.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(l.limiters, k)
		}
	}
}

func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.get(l.key(r)).Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) retryAfter() int {
	if l.rate <= 0 || l.rate == rate.Inf {
		return 1
	}
	secs := int(1 / float64(l.rate))
	if secs < 1 {
		return 1
	}
	return secs
}

// ByUser counts authenticated callers per user and everybody else with fallback.
func ByUser(fallback KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if u, ok := auth.UserFromContext(r.Context()); ok {
			return "user:" + u.ID
		}
		return "ip:" + fallback(r)
	}
}

// ByClientIP keys on the client address. Forwarding headers are honoured
// only for requests coming from one of trustedProxies; with none configured
// they are always honoured.
func ByClientIP(trustedProxies []string) KeyFunc {
	nets := parseProxies(trustedProxies)
	return func(r *http.Request) string {
		return clientIP(r, nets)
	}
}

func parseProxies(proxies []string) []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range proxies {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			ip := net.ParseIP(cidr)
			if ip == nil {
				continue
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		out = append(out, ipnet)
	}
	return out
}

func clientIP(r *http.Request, trusted []*net.IPNet) string {
	remote := parseIP(r.RemoteAddr)
	if len(trusted) > 0 && !containsIP(trusted, remote) {
		return ipString(remote, r.RemoteAddr)
	}

	// X-Forwarded-For is "client, proxy1, proxy2"; the client is leftmost.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ipString(remote, r.RemoteAddr)
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func ipString(ip net.IP, raw string) string {
	if ip == nil {
		return raw
	}
	return ip.String()
}

func parseIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
