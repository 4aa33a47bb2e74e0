package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"xdao.co/license/archive"
	"xdao.co/license/archive/grpcarchive"
	"xdao.co/license/archive/registry"
	"xdao.co/license/config"
	"xdao.co/license/verifier"

	_ "xdao.co/license/archive/localfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := pflag.NewFlagSet("xdao-licarchived", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "YAML config file")
	listen := fs.String("listen", "", "gRPC listen address (default from config)")
	metricsListen := fs.String("metrics-listen", "", "HTTP address serving /metrics (default from config; \"off\" disables)")
	backend := fs.String("backend", "", "Archive backend name (default from config)")
	verifyPuts := fs.Bool("verify-puts", false, "Only accept tokens signed by a configured trust anchor")
	anchors := fs.StringArray("trust-anchor", nil, "Trust anchor for --verify-puts; repeat for key rotation")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	registry.RegisterFlags(fs, registry.UsageDaemon)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *listBackends {
		for _, b := range registry.List(registry.UsageDaemon) {
			fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	cfg, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	logger := log.New()
	logger.SetOutput(errOut)
	if err := cfg.ConfigureLogging(logger); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	d := cfg.Daemon
	if *listen != "" {
		d.Listen = *listen
	}
	if *metricsListen != "" {
		d.MetricsListen = *metricsListen
	}
	if *backend != "" {
		d.Backend = *backend
	}
	if fs.Changed("verify-puts") {
		d.VerifyPuts = *verifyPuts
	}
	if len(*anchors) > 0 {
		cfg.TrustAnchors = *anchors
	}

	store, closeFn, err := registry.Open(d.Backend, registry.UsageDaemon, fs)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	srv := &daemon{store: store, log: logger}
	if d.VerifyPuts {
		v, err := verifier.New(verifier.WithTrustAnchors(cfg.TrustAnchors...))
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		srv.verifier = v
	}

	grpcLis, err := net.Listen("tcp", d.Listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	var metricsLis net.Listener
	if d.MetricsListen != "" && d.MetricsListen != "off" {
		metricsLis, err = net.Listen("tcp", d.MetricsListen)
		if err != nil {
			grpcLis.Close()
			fmt.Fprintln(errOut, err)
			return 1
		}
	}

	logger.WithFields(log.Fields{
		"listen":      grpcLis.Addr().String(),
		"backend":     d.Backend,
		"verify_puts": d.VerifyPuts,
	}).Info("Starting license archive daemon")
	if err := srv.serve(ctx, grpcLis, metricsLis); err != nil {
		logger.WithError(err).Error("License archive daemon failed")
		return 1
	}
	return 0
}

// daemon serves an archive.Store over gRPC and its metrics over HTTP.
type daemon struct {
	store    archive.Store
	verifier *verifier.Verifier
	log      log.FieldLogger
}

func (d *daemon) accept(token []byte) error {
	anchor, err := d.verifier.Authenticate(string(token))
	if err != nil {
		d.log.WithError(err).Warn("Rejected license token")
		return err
	}
	d.log.WithField("anchor", anchor.Fingerprint()).Debug("Accepted license token")
	return nil
}

// serve runs until ctx is done. metricsLis may be nil.
func (d *daemon) serve(ctx context.Context, grpcLis, metricsLis net.Listener) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := grpcarchive.NewMetrics(reg)

	gs := grpc.NewServer(grpc.UnaryInterceptor(metrics.UnaryServerInterceptor()))
	server := &grpcarchive.Server{Store: d.store}
	if d.verifier != nil {
		server.Accept = d.accept
		for _, a := range d.verifier.Anchors() {
			d.log.WithFields(log.Fields{
				"scheme":      a.Scheme(),
				"fingerprint": a.Fingerprint(),
			}).Info("Accepting licenses signed by trust anchor")
		}
	}
	grpcarchive.RegisterArchiveServer(gs, server)

	var httpSrv *http.Server
	if metricsLis != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gs.Serve(grpcLis)
	})
	if httpSrv != nil {
		g.Go(func() error {
			if err := httpSrv.Serve(metricsLis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		d.log.Info("Shutting down license archive daemon")
		gs.GracefulStop()
		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}
