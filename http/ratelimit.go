package http

import (
	"net"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"churnrisk/monitoring"
)

// RateLimitConfig 每客户端令牌桶配置
// TrustedProxies 为IP或CIDR；只有来自这些地址的请求才读取X-Forwarded-For
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxClients        int
	TrustedProxies    []string
}

// RateLimiter 按客户端IP限流。客户端表有上限，最久未访问的先被淘汰。
type RateLimiter struct {
	visitors *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	trusted  []*net.IPNet
	metrics  *monitoring.Metrics
}

// NewRateLimiter 创建限流器
func NewRateLimiter(config RateLimitConfig, metrics *monitoring.Metrics) *RateLimiter {
	size := config.MaxClients
	if size <= 0 {
		size = 4096
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	// lru.New only fails for a non-positive size.
	visitors, _ := lru.New[string, *rate.Limiter](size)
	return &RateLimiter{
		visitors: visitors,
		limit:    rate.Limit(config.RequestsPerSecond),
		burst:    burst,
		trusted:  parseTrustedProxies(config.TrustedProxies),
		metrics:  metrics,
	}
}

// parseTrustedProxies skips entries that are neither an IP nor a CIDR;
// config.Validate rejects those before the server starts.
func parseTrustedProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return nets
}

// Allow 消耗client的一个令牌
func (rl *RateLimiter) Allow(client string) bool {
	limiter, ok := rl.visitors.Get(client)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		// A concurrent first request may have stored one already; keep it.
		if prev, found, _ := rl.visitors.PeekOrAdd(client, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// Middleware 超出速率返回429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientIP(r)) {
			if rl.metrics != nil {
				rl.metrics.ObserveRateLimited()
			}
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isTrusted(ip net.IP) bool {
	for _, n := range rl.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP keys on the peer address. X-Forwarded-For is read only when the
// peer is a trusted proxy, walking from the nearest hop to the first address
// that is not itself a trusted proxy.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil || !rl.isTrusted(peer) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		ip := net.ParseIP(hop)
		if ip == nil {
			break
		}
		if !rl.isTrusted(ip) {
			return ip.String()
		}
	}
	return host
}
