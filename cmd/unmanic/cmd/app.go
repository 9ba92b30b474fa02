package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/unmanic/unmanic/pkg/config"
	"github.com/unmanic/unmanic/pkg/installation"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvparams"
	_ "github.com/unmanic/unmanic/pkg/kv/local"
	_ "github.com/unmanic/unmanic/pkg/kv/mem"
	_ "github.com/unmanic/unmanic/pkg/kv/postgres"
	_ "github.com/unmanic/unmanic/pkg/kv/sqlite"
	"github.com/unmanic/unmanic/pkg/logging"
	"github.com/unmanic/unmanic/pkg/session"
	"github.com/unmanic/unmanic/pkg/version"
)

// app holds what a command needs: the installation store and the single session of this process.
type app struct {
	cfg          *config.Config
	kvStore      kv.Store
	installation *installation.KVStore
	session      *session.Session
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.FromContext(ctx)
	kvParams, err := kvparams.NewConfig(cfg)
	if err != nil {
		return nil, err
	}
	kvStore, err := openStore(ctx, logger, kvParams)
	if err != nil {
		return nil, fmt.Errorf("open %s kv store: %w", kvParams.Type, err)
	}
	installationStore := installation.NewKVStore(kvStore, logger)
	sess := session.New(session.Params{
		Version: version.String(),
		FixedID: cfg.Installation.FixedID,
		DevAPI:  cfg.Session.DevAPI,
		Timeout: cfg.Session.Timeout,
	}, installationStore, logger)
	return &app{
		cfg:          cfg,
		kvStore:      kvStore,
		installation: installationStore,
		session:      sess,
	}, nil
}

// openStore retries connection failures, a shared database may still be starting.
func openStore(ctx context.Context, logger logging.Logger, params kvparams.Config) (kv.Store, error) {
	const (
		maxInterval    = time.Second
		maxElapsedTime = 15 * time.Second
	)
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = maxElapsedTime
	return backoff.RetryWithData(func() (kv.Store, error) {
		store, err := kv.Open(ctx, params)
		if errors.Is(err, kv.ErrConnectFailed) {
			logger.WithError(err).WithField(logging.StoreFieldKey, params.Type).Warn("Tried to connect to kv store")
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return store, nil
	}, backoff.WithContext(bo, ctx))
}

// withApp runs fn with an app whose store is closed once fn returns.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.kvStore.Close()
	return fn(a)
}
