package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/gosec-playbooks/pkg/dispatch"
	"github.com/user/gosec-playbooks/pkg/finding"
	"github.com/user/gosec-playbooks/pkg/logx"
	"github.com/user/gosec-playbooks/pkg/registry"
	"github.com/user/gosec-playbooks/pkg/watcher"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [events.json]",
	Short: "Route Security Hub findings and emit remediation requests",
	Long: `Read Security Hub events (EventBridge envelopes, bare ASFF findings or
arrays of either) from a file or stdin, resolve every finding and write one
remediation request per dispatched finding as a JSON line.

With --watch the catalog files are watched and reloaded while events stream
in; findings already in flight keep the catalog they started with.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDispatch,
}

func runDispatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := logx.FromContext(ctx)

	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	output := cfg.Dispatch.Output
	if cmd.Flags().Changed("output") {
		output, _ = cmd.Flags().GetString("output")
	}
	var out io.Writer = cmd.OutOrStdout()
	if output != "" && output != "-" {
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	concurrency := cfg.Dispatch.Concurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency, _ = cmd.Flags().GetInt("concurrency")
	}

	r, err := loadRegistry(ctx)
	if err != nil {
		return err
	}
	h := registry.NewHandle(r)
	logx.Infof("Dispatching against %d playbooks (account %q, region %q).", r.Len(), cfg.Deployment.AccountID, cfg.Deployment.Region)

	var intake dispatch.Intake = dispatch.NewWriterIntake(out)
	drain := func() error { return nil }
	watch, _ := cmd.Flags().GetBool("watch")
	if watch {
		intake, drain = relay(ctx, intake)
	}
	gw := dispatch.NewGateway(h, intake, dispatch.WithTracer(tracer.Tracer()))

	if watch {
		err = streamWithReload(ctx, cmd, in, h, gw, concurrency)
	} else {
		var findings []finding.Finding
		findings, err = finding.ParseEvents(in)
		if err == nil {
			gw.DispatchAll(ctx, findings, concurrency)
		}
	}
	if derr := drain(); derr != nil {
		return fmt.Errorf("writing remediation requests: %w", derr)
	}
	if err != nil {
		return fmt.Errorf("reading events: %w", err)
	}

	stats := gw.Stats()
	logger.Info("Dispatch finished.", "dispatched", stats.Dispatched, "rejected", stats.Rejected, "ignored", stats.Ignored)
	if stats.Rejected > 0 {
		return fmt.Errorf("%d finding(s) rejected", stats.Rejected)
	}
	return nil
}

// relayBuffer bounds how many requests may wait for the sink. A full relay
// rejects the finding rather than stalling resolution.
const relayBuffer = 1024

// relay puts an in-process broker between the gateway and sink so a slow
// sink never holds up resolution while the catalog is being reloaded. drain
// closes the broker and waits until every buffered request reached sink,
// returning the first sink error.
func relay(ctx context.Context, sink dispatch.Intake) (dispatch.Intake, func() error) {
	logger := logx.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	b := dispatch.NewBrokerWithBuffer[dispatch.Request](relayBuffer)
	events := b.Subscribe(ctx)
	done := make(chan error, 1)
	go func() {
		var first error
		for ev := range events {
			if err := sink.Submit(ctx, ev.Payload); err != nil {
				logger.Error("Remediation request lost.", "request_id", ev.Payload.ID, "playbook", ev.Payload.Playbook, "error", err)
				if first == nil {
					first = err
				}
			}
		}
		done <- first
	}()

	in := dispatch.NewBrokerIntake(b)
	in.RequireSubscriber = true
	return in, func() error {
		b.Close()
		return <-done
	}
}

// streamWithReload dispatches events as they are decoded while the watcher
// republishes the registry on catalog changes. Input EOF stops the watcher.
func streamWithReload(ctx context.Context, cmd *cobra.Command, in io.Reader, h *registry.Handle, gw *dispatch.Gateway, concurrency int) error {
	debounce, _ := cmd.Flags().GetDuration("debounce")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return watcher.Run(ctx, h, catalogOptions(), debounce)
	})
	eg.Go(func() error {
		defer cancel()
		// EachEvent blocks on reads; an interrupt must not wait for stdin.
		read := make(chan error, 1)
		go func() {
			read <- finding.EachEvent(in, func(fs []finding.Finding) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				gw.DispatchAll(ctx, fs, concurrency)
				return nil
			})
		}()
		select {
		case err := <-read:
			return err
		case <-ctx.Done():
			return nil
		}
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func init() {
	dispatchCmd.Flags().StringP("output", "o", "-", "file receiving remediation requests (JSON lines), - for stdout")
	dispatchCmd.Flags().IntP("concurrency", "j", 8, "findings dispatched in parallel")
	dispatchCmd.Flags().BoolP("watch", "w", false, "reload the catalog when its files change")
	dispatchCmd.Flags().Duration("debounce", 500*time.Millisecond, "quiet period before a catalog reload")
	rootCmd.AddCommand(dispatchCmd)
}
