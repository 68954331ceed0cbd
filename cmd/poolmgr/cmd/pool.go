package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opensandbox/poolmgr/internal/compute"
	"github.com/opensandbox/poolmgr/internal/config"
	"github.com/opensandbox/poolmgr/internal/events"
	"github.com/opensandbox/poolmgr/internal/pool"
	"github.com/opensandbox/poolmgr/internal/state"
	"github.com/opensandbox/poolmgr/pkg/client"
	"github.com/opensandbox/poolmgr/pkg/types"
)

// poolOps is what the commands need, served either by an in-process
// manager or by a remote poolmgr server.
type poolOps interface {
	ScaleOut(ctx context.Context, blocks int) (types.ScaleResponse, error)
	ScaleIn(ctx context.Context, blocks int) (types.ScaleResponse, error)
	Submit(ctx context.Context, command string, blocksize float64, label string) (string, error)
	Cancel(ctx context.Context, ids []string) ([]bool, error)
	Status(ctx context.Context, ids []string) ([]types.Status, error)
	Summary(ctx context.Context) (types.PoolSummary, error)
	Teardown(ctx context.Context) error
	Close()
}

func openPool(ctx context.Context) (poolOps, error) {
	if baseURL != "" {
		return remotePool{c: client.NewClient(baseURL, apiKey)}, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	m, closeFn, err := newManager(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return localPool{m: m, close: closeFn}, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid POOLMGR_LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	return cfg, nil
}

// newManager wires the configured state store, backend and event publisher
// into a manager. The returned func releases their connections.
func newManager(ctx context.Context, cfg *config.Config) (m *pool.Manager, closeFn func(), err error) {
	var closers []func()
	closeFn = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			closeFn()
		}
	}()

	var store state.Store
	switch cfg.StateBackend {
	case config.StateS3:
		s3Store, err := state.NewS3Store(state.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Key:             cfg.S3Key,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		store = s3Store
	case config.StateRedis:
		redisStore, err := state.NewRedisStore(cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { redisStore.Close() })
		store = redisStore
	default:
		store = state.NewFileStore(cfg.StatePath)
	}

	userData, err := cfg.UserData()
	if err != nil {
		return nil, nil, err
	}
	jobTemplate, err := cfg.JobTemplate()
	if err != nil {
		return nil, nil, err
	}

	pcfg := pool.Config{
		Granularity:     cfg.Granularity,
		MaxNodes:        cfg.MaxNodes,
		InstanceType:    cfg.EC2InstanceType,
		Image:           cfg.EC2AMI,
		KeyName:         cfg.EC2KeyName,
		UserData:        userData,
		TasksPerNode:    cfg.TasksPerNode,
		MaxParallelism:  cfg.MaxParallelism,
		SubmitScriptDir: cfg.SubmitScriptDir,
		JobTemplate:     jobTemplate,
		Walltime:        cfg.Walltime,
		Overrides:       cfg.SchedulerOverrides,
		CallTimeout:     cfg.CallTimeout,
		StatusRetention: cfg.StatusRetention,
	}

	deps := pool.Deps{Store: store}
	switch cfg.Backend {
	case config.BackendEC2:
		driver, err := compute.NewEC2Driver(ctx, compute.EC2Config{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PoolName:        cfg.PoolName,
		})
		if err != nil {
			return nil, nil, err
		}
		deps.Instances = driver
	case config.BackendSlurm:
		deps.Batch = compute.NewSlurmDriver(compute.SlurmConfig{CommandTimeout: cfg.SlurmCommandTimeout})
	default:
		deps.Instances = compute.NewLocalDriver()
	}

	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.PoolName)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pub.Close)
		deps.Events = pub
	}

	logrus.WithFields(logrus.Fields{
		"backend": cfg.Backend,
		"state":   store.Location(),
		"events":  cfg.NATSURL != "",
	}).Debug("poolmgr: opening pool")
	m, err = pool.New(ctx, pcfg, deps)
	if err != nil {
		return nil, nil, err
	}
	return m, closeFn, nil
}

type localPool struct {
	m     *pool.Manager
	close func()
}

func (p localPool) Close() {
	if p.close != nil {
		p.close()
	}
}

func (p localPool) ScaleOut(ctx context.Context, blocks int) (types.ScaleResponse, error) {
	n, err := p.m.ScaleOut(ctx, blocks)
	return types.ScaleResponse{Units: n, Blocksize: p.m.CurrentBlocksize()}, err
}

func (p localPool) ScaleIn(ctx context.Context, blocks int) (types.ScaleResponse, error) {
	n, err := p.m.ScaleIn(ctx, blocks)
	return types.ScaleResponse{Units: n, Blocksize: p.m.CurrentBlocksize()}, err
}

func (p localPool) Submit(ctx context.Context, command string, blocksize float64, label string) (string, error) {
	return p.m.Submit(ctx, command, blocksize, label)
}

func (p localPool) Cancel(ctx context.Context, ids []string) ([]bool, error) {
	return p.m.Cancel(ctx, ids)
}

func (p localPool) Status(ctx context.Context, ids []string) ([]types.Status, error) {
	return p.m.Status(ctx, ids)
}

func (p localPool) Summary(ctx context.Context) (types.PoolSummary, error) {
	return p.m.Summary(ctx)
}

func (p localPool) Teardown(ctx context.Context) error {
	return p.m.Teardown(ctx)
}

type remotePool struct {
	c *client.Client
}

func (remotePool) Close() {}

func (p remotePool) ScaleOut(ctx context.Context, blocks int) (types.ScaleResponse, error) {
	resp, err := p.c.ScaleOut(ctx, blocks)
	if err != nil {
		return types.ScaleResponse{}, err
	}
	return *resp, nil
}

func (p remotePool) ScaleIn(ctx context.Context, blocks int) (types.ScaleResponse, error) {
	resp, err := p.c.ScaleIn(ctx, blocks)
	if err != nil {
		return types.ScaleResponse{}, err
	}
	return *resp, nil
}

func (p remotePool) Submit(ctx context.Context, command string, blocksize float64, label string) (string, error) {
	return p.c.Submit(ctx, command, blocksize, label)
}

func (p remotePool) Cancel(ctx context.Context, ids []string) ([]bool, error) {
	return p.c.Cancel(ctx, ids)
}

func (p remotePool) Status(ctx context.Context, ids []string) ([]types.Status, error) {
	return p.c.Status(ctx, ids)
}

func (p remotePool) Summary(ctx context.Context) (types.PoolSummary, error) {
	sum, err := p.c.Summary(ctx)
	if err != nil {
		return types.PoolSummary{}, err
	}
	return *sum, nil
}

func (p remotePool) Teardown(ctx context.Context) error {
	return p.c.Teardown(ctx)
}
