package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haoyun/renmai/internal/auth"
	"github.com/haoyun/renmai/internal/httpapi"
	"github.com/haoyun/renmai/internal/metrics"
	"github.com/haoyun/renmai/internal/notify"
	"github.com/haoyun/renmai/internal/pkg/config"
	"github.com/haoyun/renmai/internal/pkg/ratelimit"
	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/service"
	"github.com/haoyun/renmai/internal/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath, func(next *config.Config) {
		// 热更新只动日志级别，其余配置重启生效
		config.SetupLogger(next.App.LogLevel)
		slog.Info("配置已重载", "log_level", next.App.LogLevel)
	})
	if err != nil {
		slog.Error("加载配置失败", "error", err)
		os.Exit(1)
	}
	config.SetupLogger(cfg.App.LogLevel)

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("服务退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	db, err := repository.NewDatabase(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := storage.NewLocalStore(cfg.Media.Root, cfg.Media.URLBase)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notify.NATSURL != "" {
		n, err := notify.NewNATSNotifier(cfg.Notify.NATSURL)
		if err != nil {
			// 通知是尽力而为，连不上降级为空实现
			slog.Warn("NATS 不可用，通知已禁用", "error", err)
		} else {
			notifier = n
		}
	}
	defer notifier.Close()

	users := repository.NewUserRepository(db.DB)
	conns := repository.NewConnectionRepository(db.DB)
	facts := repository.NewFactRepository(db.DB)
	posts := repository.NewPostRepository(db.DB)
	msgs := repository.NewMessageRepository(db.DB)
	pages := repository.NewPageRepository(db.DB)
	reports := repository.NewReportRepository(db.DB)

	m := metrics.New()
	sessions := auth.NewSessionStore(db.DB, 0)
	limiter := ratelimit.New(cfg.Limits.RequestsPerMinute, cfg.Limits.BlockAfter, cfg.Limits.BlockFor)
	deps := httpapi.Deps{
		Sessions: sessions,
		Profiles: service.NewProfileService(users, posts, facts, blobs),
		Conns:    service.NewConnectionService(db.DB, users, conns, reports),
		Msgs:     service.NewMessageService(db.DB, users, conns, msgs),
		Facts:    service.NewFactService(db.DB, users, pages, conns, facts, cfg.Graph.FactCooldown),
		Posts:    service.NewPostService(db.DB, users, conns, posts, reports, notifier),
		Pages:    service.NewPageService(users, pages),
		Metrics:  m,
		Limiter:  limiter,
	}
	server := httpapi.New(cfg.Server, deps)
	sweeper := service.NewSweeper(conns, cfg.Graph.SweepInterval)
	sweeper.OnSwept = func(n int64) { m.SweptTotal.Add(float64(n)) }

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error { return runJanitor(ctx, limiter, sessions) })

	return g.Wait()
}

// runJanitor 周期回收进程内与库内的过期状态：
// 限流器里久未露面的客户端、sessions 表里过期的会话。
func runJanitor(ctx context.Context, limiter *ratelimit.Limiter, sessions *auth.SessionStore) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			limiter.Prune(24 * time.Hour)
			if n, err := sessions.PruneExpired(ctx); err != nil {
				slog.Warn("清理过期会话失败", "error", err)
			} else if n > 0 {
				slog.Info("已清理过期会话", "count", n)
			}
		}
	}
}
