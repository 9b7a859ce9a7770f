package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/avaraline/incarnator/internal/activities"
	"github.com/avaraline/incarnator/internal/config"
	"github.com/avaraline/incarnator/internal/push"
	"github.com/avaraline/incarnator/internal/remote"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
	"github.com/avaraline/incarnator/internal/users"
)

// services are the domain services bound to one store.
type services struct {
	push       *push.Service
	activities *activities.Service
	users      *users.Service
	registry   *stator.Registry
}

// servicesDeps are the collaborators handed to newServices. Nil fields
// leave the matching capability disabled.
type servicesDeps struct {
	store      *store.Store
	deliverer  remote.Deliverer
	fetcher    remote.Fetcher
	dispatcher push.Dispatcher
}

func newServices(cfg *config.Config, deps servicesDeps, logger *slog.Logger) (*services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// Interface-typed nils, so that an absent store or remote client stays
	// nil behind the services' interfaces.
	var (
		pushStore  push.Store
		actsStore  activities.Store
		usersStore users.Store
	)
	if deps.store != nil {
		pushStore, actsStore, usersStore = deps.store, deps.store, deps.store
	}

	p := push.NewService(pushStore, deps.dispatcher, push.WithLogger(logger))
	acts := activities.NewService(actsStore, deps.deliverer,
		activities.WithLogger(logger),
		activities.WithLocation(loc),
		activities.WithDomain(cfg.MainDomain),
		activities.WithNotifier(p),
	)
	u := users.NewService(usersStore, acts, deps.deliverer,
		users.WithLogger(logger),
		users.WithNotifier(p),
		users.WithFetcher(deps.fetcher),
		users.WithSyncConcurrency(cfg.Stator.ConcurrencyPerModel),
	)

	reg := stator.NewRegistry()
	if err := reg.Register(acts.Models()...); err != nil {
		u.Close()
		return nil, err
	}
	if err := reg.Register(p.Model()); err != nil {
		u.Close()
		return nil, err
	}
	if err := reg.Register(u.Models()...); err != nil {
		u.Close()
		return nil, err
	}
	return &services{push: p, activities: acts, users: u, registry: reg}, nil
}

func (s *services) Close() {
	s.users.Close()
}

// app is everything a command that touches the database needs.
type app struct {
	*services
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	client *remote.Client
}

// openApp opens the configured database and wires every service to it.
func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	client := remote.NewClient(remote.Options{
		Timeout:   cfg.Remote.Timeout(),
		UserAgent: cfg.Remote.UserAgent,
	})
	keys := push.VAPID{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber: cfg.Push.Subscriber,
	}
	if !keys.Configured() {
		logger.Warn("push is not configured: notifications will fail")
	}

	svcs, err := newServices(cfg, servicesDeps{
		store:      st,
		deliverer:  client,
		fetcher:    client,
		dispatcher: push.NewDispatcher(keys, client.HTTPClient()),
	}, logger)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to wire services", err)
	}

	return &app{
		services: svcs,
		cfg:      cfg,
		logger:   logger,
		store:    st,
		client:   client,
	}, nil
}

// Close stops the services and closes the database.
func (a *app) Close() error {
	a.services.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// closeApp closes a and folds any failure into err.
func closeApp(a *app, err *error) {
	if cerr := a.Close(); cerr != nil {
		a.logger.Error("error closing database", "error", cerr)
		*err = errors.Join(*err, cerr)
	}
}
