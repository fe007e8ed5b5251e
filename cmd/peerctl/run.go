package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/peerctl/internal/admin"
	"github.com/danmuck/peerctl/internal/auth"
	"github.com/danmuck/peerctl/internal/config"
	logs "github.com/danmuck/peerctl/internal/logging"
	"github.com/danmuck/peerctl/internal/peer"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the configured peers and stream their output",
		RunE:  runRun,
	}
	cmd.Flags().Bool("admin", true, "serve the admin API on admin.addr (requires admin.token)")
	cmd.Flags().Bool("admin-insecure", false, "serve the admin API without a token")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	serveAdmin, _ := cmd.Flags().GetBool("admin")
	insecure, _ := cmd.Flags().GetBool("admin-insecure")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	supCfg, err := cfg.SupervisorConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := peer.NewSupervisor(supCfg)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), supCfg.StopGrace+5*time.Second)
		defer cancel()
		if err := sup.StopAll(stopCtx); err != nil {
			logs.Errf("peerctl.run stop_all err=%v", err)
		}
	}()

	r := newRenderer(cmd.OutOrStdout())
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range cfg.Peers {
		id, err := sup.Start(ctx, p.Path, p.StartOptions()...)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("start peer %q: %w", p.Name, err)
		}
		r.name(id, p.Name)
		sub, err := sup.Subscribe(id)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			defer sub.Close()
			for {
				in, err := sub.Next(gctx)
				if err != nil {
					if errors.Is(err, peer.ErrPeerIO) {
						return nil
					}
					return ignoreCancel(err)
				}
				r.inbound(in)
			}
		})
	}

	g.Go(func() error {
		for {
			select {
			case exit := <-sup.Exits():
				r.exit(exit)
			case <-gctx.Done():
				return nil
			}
		}
	})

	if opts, ok := adminOptions(cfg.Admin, serveAdmin, insecure); ok {
		srv := admin.New(sup, opts)
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	logs.Infof("peerctl.run started peers=%d config=%q", sup.Len(), path)
	return g.Wait()
}

// adminOptions decides whether the admin API is served. Without a token it
// is only served when insecure is set.
func adminOptions(cfg config.AdminConfig, serve, insecure bool) (admin.Options, bool) {
	if !serve || cfg.Addr == "" {
		return admin.Options{}, false
	}
	opts := admin.Options{Addr: cfg.Addr, CorsOrigins: cfg.CorsOrigins}
	switch {
	case cfg.Token != "":
		opts.Validator = auth.StaticToken{Token: cfg.Token}
	case insecure:
		opts.Insecure = true
		logs.Warnf("peerctl.run admin_insecure addr=%q", cfg.Addr)
	default:
		logs.Warnf("peerctl.run admin_disabled addr=%q reason=%q", cfg.Addr, "admin.token not set")
		return admin.Options{}, false
	}
	return opts, true
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
