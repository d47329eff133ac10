// Package app assembles the runtime shared by the server and worker
// binaries: storage, Redis, the dispatch queue and the services on top.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/phishsim/internal/config"
	"github.com/ignite/phishsim/internal/mail"
	"github.com/ignite/phishsim/internal/pkg/distlock"
	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/ratelimit"
	"github.com/ignite/phishsim/internal/repository/memory"
	"github.com/ignite/phishsim/internal/repository/postgres"
	"github.com/ignite/phishsim/internal/service/analytics"
	"github.com/ignite/phishsim/internal/service/campaign"
	"github.com/ignite/phishsim/internal/service/tracking"
	"github.com/ignite/phishsim/internal/template"
	"github.com/ignite/phishsim/internal/worker"
)

// Store is everything the services and workers need from storage. Both
// postgres.Store and memory.Store satisfy it.
type Store interface {
	tracking.Repository
	campaign.Repository
	analytics.Repository
	worker.Store
	worker.EventPurger
}

// Runtime holds the long-lived connections of one process.
type Runtime struct {
	Config *config.Config
	DB     *sql.DB       // nil in memory mode
	Redis  *redis.Client // nil without REDIS_URL
	Store  Store
	Queue  worker.Queue

	Campaigns *campaign.Service
	Tracking  *tracking.Service
	Analytics *analytics.Service

	counter ratelimit.Counter
	locks   distlock.Factory
}

// New connects to the configured backends. With no database URL the
// process runs on the in-memory store, which only supports the in-process
// queue.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		rt.DB = db
		rt.Store = postgres.NewStore(db)
		logger.Info("using postgres store")
	} else {
		rt.Store = memory.New()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rt.Redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rt.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		rt.counter = ratelimit.NewRedisCounter(rt.Redis)
	} else {
		rt.counter = ratelimit.NewMemoryCounter()
	}

	rt.locks = distlock.NewFactory(rt.Redis, rt.DB, cfg.Dispatch.LockTTL())

	q, err := rt.openQueue(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Queue = q

	limiter := ratelimit.NewLimiter(rt.counter, "track", map[string]ratelimit.Policy{
		string(tracking.TriggerOpen):   policy(cfg.Tracking.Open),
		string(tracking.TriggerClick):  policy(cfg.Tracking.Click),
		string(tracking.TriggerSubmit): policy(cfg.Tracking.Submit),
	})
	rt.Tracking = tracking.NewService(rt.Store, limiter)
	rt.Campaigns = campaign.NewService(rt.Store, rt.Queue, campaign.Options{ConsentRequired: cfg.Campaign.ConsentRequired})
	rt.Analytics = analytics.NewService(rt.Store).WithRetention(cfg.Retention.Days)
	return rt, nil
}

func policy(l config.TriggerLimit) ratelimit.Policy {
	return ratelimit.Policy{Limit: l.Limit, Window: l.Window()}
}

func (rt *Runtime) openQueue(ctx context.Context) (worker.Queue, error) {
	switch rt.Config.Dispatch.Queue {
	case "memory":
		return worker.NewMemoryQueue(1024), nil
	case "redis":
		if rt.Redis == nil {
			return nil, fmt.Errorf("redis dispatch queue needs REDIS_URL")
		}
		return worker.NewRedisQueue(rt.Redis), nil
	case "sqs":
		if rt.Config.Dispatch.SQSQueueURL == "" {
			return nil, fmt.Errorf("sqs dispatch queue needs SQS_DISPATCH_QUEUE_URL")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return worker.NewSQSQueue(sqs.NewFromConfig(awsCfg), rt.Config.Dispatch.SQSQueueURL), nil
	}
	return nil, fmt.Errorf("unknown dispatch queue %q", rt.Config.Dispatch.Queue)
}

// SharedQueue reports whether jobs reach processes other than this one.
// The in-memory queue (and store) only work with an embedded pool.
func (rt *Runtime) SharedQueue() bool {
	_, local := rt.Queue.(*worker.MemoryQueue)
	return !local
}

// NewPool builds the dispatch pool: mailer, per-campaign locks and the
// hourly budget on the shared counter.
func (rt *Runtime) NewPool(ctx context.Context) (*worker.Pool, error) {
	cfg := rt.Config
	mailer, err := mail.New(ctx, cfg.Mail)
	if err != nil {
		return nil, err
	}
	d := worker.NewDispatcher(rt.Store, rt.Tracking, mailer, rt.counter, rt.locks, worker.DispatcherConfig{
		BaseURL: cfg.Tracking.BaseURL,
		Sender: template.Sender{
			Name:    cfg.Mail.SenderName,
			Email:   cfg.Mail.DefaultSender,
			Company: cfg.Mail.Company,
		},
		HourlyBudget: cfg.Dispatch.MaxEmailsPerHour,
		LockTTL:      cfg.Dispatch.LockTTL(),
	})
	return worker.NewPool(rt.Queue, d, cfg.Dispatch.Workers), nil
}

// NewRetention builds the event purge worker.
func (rt *Runtime) NewRetention() *worker.RetentionWorker {
	return worker.NewRetentionWorker(rt.Store, rt.Config.Retention.Days, rt.Config.Retention.Interval())
}

// NewScheduler builds the worker that launches scheduled drafts.
func (rt *Runtime) NewScheduler() *worker.CampaignScheduler {
	return worker.NewCampaignScheduler(rt.Campaigns, rt.locks, worker.DefaultSchedulerPollInterval)
}

// Close releases connections.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if rt.DB != nil {
		if err := rt.DB.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}
}
