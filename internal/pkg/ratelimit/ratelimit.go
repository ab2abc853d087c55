// Package ratelimit 提供按客户端标识的入口限流。
// 超速即拒绝；连续违规达到阈值后整段封禁一段时间。
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type client struct {
	limiter      *rate.Limiter
	violations   int
	blockedUntil time.Time
	lastSeen     time.Time
}

// Limiter 按 key（通常是客户端 IP）限流
type Limiter struct {
	mu         sync.Mutex
	clients    map[string]*client
	rate       rate.Limit
	burst      int
	blockAfter int
	blockFor   time.Duration
	now        func() time.Time
}

// New 创建限流器。requestsPerMinute 为稳态速率；
// 连续违规 blockAfter 次后封禁 blockFor。
func New(requestsPerMinute, blockAfter int, blockFor time.Duration) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	if blockAfter <= 0 {
		blockAfter = 3
	}
	if blockFor <= 0 {
		blockFor = time.Hour
	}
	return &Limiter{
		clients:    make(map[string]*client),
		rate:       rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:      requestsPerMinute,
		blockAfter: blockAfter,
		blockFor:   blockFor,
		now:        time.Now,
	}
}

// Allow 判断请求是否放行
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	if now.Before(c.blockedUntil) {
		return false
	}

	if c.limiter.Allow() {
		c.violations = 0
		return true
	}

	c.violations++
	if c.violations >= l.blockAfter {
		c.blockedUntil = now.Add(l.blockFor)
		c.violations = 0
	}
	return false
}

// Prune 清理长时间未出现的客户端，防止 map 无界增长
func (l *Limiter) Prune(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) && l.now().After(c.blockedUntil) {
			delete(l.clients, key)
		}
	}
}
