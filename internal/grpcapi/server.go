// Package grpcapi implements the northbound plugin boundary SPEC_FULL.md
// §6.3 calls for: a grpc.Server exposing only the standard health-check
// and reflection services, with TLS material hot-reloaded from disk. The
// gRPC/gNMI data-plane wire format itself is explicitly out of scope
// (spec.md §1) — this gives an external plugin process a real surface to
// attach to without inventing that wire format here.
package grpcapi

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/holocore/holod/internal/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server wraps a grpc.Server bound to one of the plugins.{grpc,gnmi}
// endpoints, plus the TLS watcher keeping its certificate current.
type Server struct {
	name    string
	addr    string
	grpc    *grpc.Server
	health  *health.Server
	watcher *certWatcher
	log     *slog.Logger
}

// New builds a Server for the given plugin configuration. name is used
// only for logging ("grpc" or "gnmi"), letting one process host both
// endpoints independently.
func New(name string, cfg config.Plugin, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	var opts []grpc.ServerOption
	var watcher *certWatcher
	if cfg.TLS.Certificate != "" && cfg.TLS.Key != "" {
		w, err := newCertWatcher(cfg.TLS.Certificate, cfg.TLS.Key, log)
		if err != nil {
			return nil, fmt.Errorf("grpcapi: %s: %w", name, err)
		}
		watcher = w
		tlsConfig := &tls.Config{GetCertificate: watcher.getCertificate}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	srv := grpc.NewServer(opts...)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	return &Server{name: name, addr: cfg.Address, grpc: srv, health: healthSrv, watcher: watcher, log: log}, nil
}

// Serve blocks accepting connections on s.addr until the listener fails
// or GracefulStop is called. It marks the health service SERVING first
// and NOT_SERVING on return, matching the standard grpc health-check
// convention external plugin processes expect to poll.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpcapi: %s: listen %s: %w", s.name, s.addr, err)
	}
	if s.watcher != nil {
		go s.watcher.run()
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.log.Info("grpc endpoint listening", "name", s.name, "address", s.addr)
	defer s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return s.grpc.Serve(lis)
}

// GracefulStop stops accepting new connections and waits for in-flight
// RPCs to finish, then stops the certificate watcher.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
	if s.watcher != nil {
		s.watcher.stop()
	}
}

