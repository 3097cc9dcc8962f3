package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/pairchat-go/application"
	"github.com/lk2023060901/pairchat-go/internal/chat"
	"github.com/lk2023060901/pairchat-go/internal/cluster"
	"github.com/lk2023060901/pairchat-go/internal/collab"
	"github.com/lk2023060901/pairchat-go/internal/sdk/moderation"
	"github.com/lk2023060901/pairchat-go/internal/transport"
	"github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/metrics"
	etcdutil "github.com/lk2023060901/pairchat-go/pkg/util/etcd"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	app := application.New()
	if err := app.Run(); err != nil {
		return err
	}

	cfg, err := app.ServiceConfig()
	if err != nil {
		return err
	}

	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	matches, store, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	registry := chat.NewRegistry()
	var routerOpts []chat.RouterOption
	if cfg.Moderation.Enabled() {
		mod, err := moderation.NewClient(&moderation.Config{BaseURL: cfg.Moderation.BaseURL},
			moderation.WithThreshold(cfg.Moderation.Threshold))
		if err != nil {
			return fmt.Errorf("init moderation client: %w", err)
		}
		routerOpts = append(routerOpts, chat.WithModerator(mod))
	}
	router := chat.NewRouter(registry, store, routerOpts...)
	defer router.Close()

	server := transport.NewServer(cfg.Server, transport.Deps{
		Identity: collab.NewJWTIdentity([]byte(cfg.Auth.Secret), cfg.Auth.Leeway),
		Gate:     chat.NewGate(matches),
		Registry: registry,
		Router:   router,
		Presence: chat.NewPresence(registry),
	})

	membership, err := joinCluster(ctx, cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Serve)
	g.Go(func() error {
		<-ctx.Done()
		if membership != nil {
			if err := membership.GoingStop(); err != nil {
				log.Warn("failed to mark node as stopping", zap.Error(err))
			}
			membership.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildStores 根据配置选择 Redis 或内存实现的配对与消息存储。
func buildStores(ctx context.Context, cfg *application.ServiceConfig) (chat.MatchStore, chat.MessageStore, func(), error) {
	if !cfg.Redis.Enabled() {
		log.Warn("redis not configured, using in-memory stores, data will not survive restart")
		return collab.NewMemoryMatchStore(), collab.NewMemoryMessageStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	return collab.NewRedisMatchStore(client, ""),
		collab.NewRedisMessageStore(client, ""),
		func() { client.Close() },
		nil
}

// joinCluster 按配置将当前节点注册进 etcd 集群，未启用时返回 nil。
func joinCluster(ctx context.Context, cfg *application.ServiceConfig) (*cluster.Membership, error) {
	if !cfg.Cluster.Enabled {
		return nil, nil
	}

	var etcdCli *clientv3.Client
	if cfg.Cluster.UseEmbed {
		if err := etcdutil.InitEtcdServer(true, "", cfg.Cluster.EmbedDataDir, "default", "info"); err != nil {
			return nil, fmt.Errorf("start embedded etcd: %w", err)
		}
		cli, err := etcdutil.GetEmbedEtcdClient()
		if err != nil {
			return nil, fmt.Errorf("embedded etcd client: %w", err)
		}
		etcdCli = cli
	} else {
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Cluster.Endpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connect etcd %v: %w", cfg.Cluster.Endpoints, err)
		}
		etcdCli = cli
	}

	membership := cluster.NewMembership(ctx, cfg.Cluster.MetaRoot, etcdCli)
	if err := membership.Init(cfg.Cluster.Role, cfg.Cluster.AdvertiseAddr); err != nil {
		return nil, fmt.Errorf("init cluster membership: %w", err)
	}
	if err := membership.Register(); err != nil {
		return nil, fmt.Errorf("register cluster membership: %w", err)
	}
	return membership, nil
}
