package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/haoyun/renmai/internal/repository"
)

// Sweeper 定时把超过 30 天未响应的 pending 连接置为 ignored。
// 单实例周期任务，幂等，可与在线请求并发运行（条件更新限定 status=pending）。
type Sweeper struct {
	conns    *repository.ConnectionRepository
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time

	// OnSwept 每轮清扫后回调清扫行数，用于指标上报
	OnSwept func(count int64)
}

// NewSweeper 创建清扫任务，interval <= 0 时默认一小时
func NewSweeper(conns *repository.ConnectionRepository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		conns:    conns,
		interval: interval,
		maxAge:   staleClaimAge,
		now:      time.Now,
	}
}

// Run 阻塞运行清扫循环直到 ctx 取消。单次失败只记日志，不中断循环。
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := s.now()
	swept, err := s.conns.SweepStale(ctx, now.Add(-s.maxAge), now)
	if err != nil {
		slog.Error("清扫过期连接失败", "error", err)
		return
	}
	if swept > 0 {
		slog.Info("过期连接已自动忽略", "count", swept)
	}
	if s.OnSwept != nil {
		s.OnSwept(swept)
	}
}
