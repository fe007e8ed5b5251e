package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/peerctl/internal/config"
	"github.com/danmuck/peerctl/internal/peer"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
)

var errNoPeer = errors.New("no peer selected")

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Start one peer, send a single request and print the reply",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runCall,
	}
	cmd.Flags().String("peer", "", "configured peer name (defaults to the first)")
	cmd.Flags().String("exec", "", "executable to launch instead of a configured peer")
	cmd.Flags().StringSlice("arg", nil, "argument for --exec (repeatable)")
	cmd.Flags().Duration("timeout", 10*time.Second, "overall deadline")
	cmd.Flags().Bool("notify", false, "send a notification and do not wait for a reply")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	peerName, _ := cmd.Flags().GetString("peer")
	execPath, _ := cmd.Flags().GetString("exec")
	execArgs, _ := cmd.Flags().GetStringSlice("arg")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	notify, _ := cmd.Flags().GetBool("notify")

	var params jsonrpc.Document
	if len(args) == 2 {
		doc, err := jsonrpc.RawDocument([]byte(args[1]))
		if err != nil {
			return fmt.Errorf("params: %w", err)
		}
		params = doc
	}

	cfg := config.Default()
	if execPath == "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	supCfg, err := cfg.SupervisorConfig()
	if err != nil {
		return err
	}

	target, opts, err := selectPeer(cfg, peerName, execPath, execArgs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	sup := peer.NewSupervisor(supCfg)
	id, err := sup.Start(ctx, target, opts...)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), supCfg.StopGrace+time.Second)
		defer stopCancel()
		_ = sup.Stop(stopCtx, id)
	}()

	r := newRenderer(cmd.OutOrStdout())
	r.name(id, target)

	if err := sup.AwaitReady(ctx, id); err != nil {
		return err
	}

	if notify {
		n, err := jsonrpc.NewNotification(args[0], params)
		if err != nil {
			return err
		}
		return sup.SendMessage(ctx, id, n)
	}

	reqID := jsonrpc.NewStringID()
	req, err := jsonrpc.NewRequest(reqID, args[0], params)
	if err != nil {
		return err
	}
	if err := sup.SendMessage(ctx, id, req); err != nil {
		return err
	}
	return awaitReply(ctx, sup, id, reqID, r)
}

// awaitReply renders every line read from the peer until the one answering reqID.
func awaitReply(ctx context.Context, sup *peer.Supervisor, id peer.ID, reqID jsonrpc.ID, r *renderer) error {
	for {
		in, err := sup.ReadLine(ctx, id)
		if err != nil {
			return err
		}
		r.inbound(in)
		switch msg := in.Message.(type) {
		case *jsonrpc.Response:
			if msg.ID == reqID {
				if msg.Error != nil {
					return *msg.Error
				}
				return nil
			}
		case *jsonrpc.ErrorMessage:
			if msg.ID == reqID {
				return msg.Error
			}
		}
	}
}

func selectPeer(cfg config.Config, name, execPath string, execArgs []string) (string, []peer.StartOption, error) {
	if execPath != "" {
		return execPath, []peer.StartOption{peer.WithArgs(execArgs...)}, nil
	}
	for _, p := range cfg.Peers {
		if name == "" || p.Name == name {
			return p.Path, p.StartOptions(), nil
		}
	}
	if name == "" {
		return "", nil, errNoPeer
	}
	return "", nil, fmt.Errorf("%w: %q", errNoPeer, name)
}
