// Package daemon wires together every package in this repository into one
// running process: it is the Go realisation of holod's bootstrap sequence
// from SPEC_FULL.md §6 — load config, set up logging, open the rollback
// log, build the schema, register the built-in protocol instances, resume
// any confirmed commit left in flight by a previous run, drop privileges,
// and start the northbound plugin endpoints.
package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holocore/holod/internal/config"
	"github.com/holocore/holod/internal/grpcapi"
	"github.com/holocore/holod/internal/ibus"
	"github.com/holocore/holod/internal/instance"
	"github.com/holocore/holod/internal/logging"
	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/platform/k8sprovider"
	"github.com/holocore/holod/internal/protocols/bfdmgr"
	"github.com/holocore/holod/internal/protocols/ifmgr"
	"github.com/holocore/holod/internal/recorder"
	"github.com/holocore/holod/internal/rollback"
	"github.com/holocore/holod/internal/txn"
	"github.com/holocore/holod/internal/yang"
	"github.com/holocore/holod/pkg/k8s"
)

// Daemon owns every long-lived component started at boot. It is built by
// New and driven to completion by Run, which blocks until ctx is
// cancelled.
type Daemon struct {
	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error

	schema *yang.SchemaContext
	db     *rollback.DB
	engine *txn.Engine
	broker *ibus.Broker

	grpc *grpcapi.Server
	gnmi *grpcapi.Server
}

// New loads config at cfgPath, builds logging, and opens the rollback
// log. Anything that fails here is a fatal init error (spec.md §6 exit
// code policy): the caller should exit non-zero.
func New(cfgPath string) (*Daemon, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: load config: %w", err)
	}

	log, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("daemon: build logging: %w", err)
	}

	db, err := rollback.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open rollback log %s: %w", cfg.DatabasePath, err)
	}

	schema, err := yang.Load(ifmgr.Module, bfdmgr.Module)
	if err != nil {
		return nil, fmt.Errorf("daemon: load schema: %w", err)
	}
	yang.SetGlobal(schema)

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		schema:   schema,
		db:       db,
		broker:   ibus.NewBroker(),
	}
	d.engine = txn.NewEngine(schema, db, nil, log)
	return d, nil
}

// Run registers the built-in protocol instances and the optional
// Kubernetes southbound provider, resumes any unconfirmed commit, drops
// privileges, starts the northbound plugin endpoints, and blocks until ctx
// is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.closeLog()

	if err := d.registerInstances(ctx); err != nil {
		return err
	}

	d.startK8sProvider(ctx)

	if err := d.engine.ResumeUnconfirmed(ctx); err != nil {
		d.log.Error("resume unconfirmed commit failed", "error", err)
	}

	// Privileges are dropped after the rollback log is open and the
	// instances are registered, but before the plugin listeners below are
	// opened, so those listeners bind under the dropped identity.
	if d.cfg.User != "" || d.cfg.Group != "" {
		if err := config.DropPrivileges(d.cfg.User, d.cfg.Group); err != nil {
			return fmt.Errorf("daemon: drop privileges: %w", err)
		}
	}

	errCh := make(chan error, 2)
	started := 0

	if d.cfg.Plugins.GRPC.Enabled {
		srv, err := grpcapi.New("grpc", d.cfg.Plugins.GRPC, d.log)
		if err != nil {
			return fmt.Errorf("daemon: build grpc endpoint: %w", err)
		}
		d.grpc = srv
		started++
		go func() { errCh <- srv.Serve() }()
	}
	if d.cfg.Plugins.GNMI.Enabled {
		srv, err := grpcapi.New("gnmi", d.cfg.Plugins.GNMI, d.log)
		if err != nil {
			return fmt.Errorf("daemon: build gnmi endpoint: %w", err)
		}
		d.gnmi = srv
		started++
		go func() { errCh <- srv.Serve() }()
	}

	d.log.Info("holod started", "database_path", d.cfg.DatabasePath)

	select {
	case <-ctx.Done():
		d.shutdown()
		return nil
	case err := <-errCh:
		if started > 0 {
			d.shutdown()
		}
		return err
	}
}

func (d *Daemon) shutdown() {
	d.log.Info("holod shutting down")
	if d.grpc != nil {
		d.grpc.GracefulStop()
	}
	if d.gnmi != nil {
		d.gnmi.GracefulStop()
	}
}

// registerInstances builds and starts the two built-in protocol instances
// (ifmgr, bfdmgr), wiring each one's northbound.Channel into the
// transaction engine exactly as an external plugin process would.
func (d *Daemon) registerInstances(ctx context.Context) error {
	bindKernel := func(discriminator string) error { return nil }

	providers := []struct {
		key      northbound.InstanceKey
		provider any
	}{
		{northbound.InstanceKey{Protocol: "ifmgr", Name: "default"}, ifmgr.New()},
		{northbound.InstanceKey{Protocol: "bfdmgr", Name: "default"}, bfdmgr.New(bindKernel, d.broker)},
	}

	for _, p := range providers {
		rec, err := d.openRecorder(p.key)
		if err != nil {
			return fmt.Errorf("daemon: open event recorder for %s: %w", p.key, err)
		}

		inst := instance.New(p.key, p.provider, d.schema, rec, d.log.With("instance", p.key.String()), nil, nil)
		go inst.Run(ctx)
		go d.drainNotifications(ctx, p.key, inst.Channel)

		if err := d.engine.RegisterProvider(ctx, p.key, inst.Channel); err != nil {
			return fmt.Errorf("daemon: register %s: %w", p.key, err)
		}
	}
	return nil
}

// drainNotifications is the daemon's side of the dedicated notification
// channel spec §6 calls for: every YANG notification tree an instance
// emits is logged here. A real northbound plugin boundary would instead
// fan these out to subscribed clients, but that wire protocol is scoped
// out of this repository (see internal/grpcapi).
func (d *Daemon) drainNotifications(ctx context.Context, key northbound.InstanceKey, ch *northbound.Channel) {
	for {
		select {
		case notif, ok := <-ch.Notifications:
			if !ok {
				return
			}
			d.log.Info("northbound notification", "instance", key.String(), "paths", notif.Paths())
		case <-ctx.Done():
			return
		}
	}
}

func (d *Daemon) openRecorder(key northbound.InstanceKey) (*recorder.Recorder, error) {
	if !d.cfg.EventRecorder.Enabled {
		return nil, nil
	}
	return recorder.Open(d.cfg.EventRecorder.Dir, key)
}

// startK8sProvider wires the optional Kubernetes southbound enrichment.
// It is best-effort: a cluster that cannot be reached (no in-cluster
// config, no kubeconfig) only disables this one producer and logs a
// warning, rather than failing the whole daemon.
func (d *Daemon) startK8sProvider(ctx context.Context) {
	client, _, err := k8s.NewClient()
	if err != nil {
		d.log.Warn("kubernetes client unavailable, k8s southbound provider disabled", "error", err)
		return
	}

	provider := k8sprovider.New(client, d.broker, d.log.With("component", "k8sprovider"))
	go func() {
		if err := provider.Run(ctx); err != nil {
			d.log.Error("k8s southbound provider stopped", "error", err)
		}
	}()
}
