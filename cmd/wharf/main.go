package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	cfgpkg "github.com/wharfq/wharf/internal/config"
	"github.com/wharfq/wharf/internal/runtime"
	"github.com/wharfq/wharf/internal/services/workqueues"
	pebblestore "github.com/wharfq/wharf/internal/storage/pebble"
	logpkg "github.com/wharfq/wharf/pkg/log"
)

func main() {
	level := os.Getenv("WHARF_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "wharf",
		Short: "Wharf point-to-point queue CLI",
		Long:  "Wharf is a single-binary point-to-point queue engine. This CLI drives it in-process against a local data directory.",
	}

	var dataDir string
	var fsyncMode string
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", cfgpkg.DefaultDataDir(), "Data directory")
	rootCmd.PersistentFlags().StringVar(&fsyncMode, "fsync", "always", "Fsync mode: always|interval|never")

	openRuntime := func() (*runtime.Runtime, error) {
		mode, err := parseFsyncMode(fsyncMode)
		if err != nil {
			return nil, err
		}
		return runtime.Open(runtime.Options{
			DataDir: dataDir,
			Fsync:   mode,
			Config:  cfgpkg.Default(),
			Logger:  logger,
		})
	}

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newSendCmd(openRuntime))
	rootCmd.AddCommand(newSubscribeCmd(openRuntime))
	rootCmd.AddCommand(newAckCmd(openRuntime))
	rootCmd.AddCommand(newBrowseCmd(openRuntime))
	rootCmd.AddCommand(newPurgeCmd(openRuntime))
	rootCmd.AddCommand(newMoveCmd(openRuntime))
	rootCmd.AddCommand(newCopyCmd(openRuntime))
	rootCmd.AddCommand(newRemoveCmd(openRuntime))
	rootCmd.AddCommand(newListCmd(openRuntime))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseFsyncMode(s string) (pebblestore.FsyncMode, error) {
	switch s {
	case "never":
		return pebblestore.FsyncModeNever, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "always", "":
		return pebblestore.FsyncModeAlways, nil
	default:
		return 0, fmt.Errorf("invalid --fsync; use always|interval|never")
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			if dataDir == "" {
				dataDir = cfgpkg.DefaultDataDir()
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			fmt.Println("initialized data directory:", dataDir)
			return nil
		},
	}
}

type openFunc func() (*runtime.Runtime, error)

func newSendCmd(open openFunc) *cobra.Command {
	var namespace, destination, payload, groupID string
	var expirationMs int64
	var persistent bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := workqueues.New(rt)
			id, err := svc.Send(cmd.Context(), workqueues.SendRequest{
				Namespace:    namespace,
				Destination:  destination,
				Payload:      []byte(payload),
				Persistent:   persistent,
				ExpirationMs: expirationMs,
				GroupID:      groupID,
			})
			if err != nil {
				return err
			}
			fmt.Println("sent:", id.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace (defaults to configured default)")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination name")
	cmd.Flags().StringVar(&payload, "payload", "", "Message payload")
	cmd.Flags().StringVar(&groupID, "group", "", "Message group id for sticky dispatch")
	cmd.Flags().Int64Var(&expirationMs, "expiration-ms", 0, "Expiration timestamp in epoch ms (0 = never)")
	cmd.Flags().BoolVar(&persistent, "persistent", true, "Mark message persistent")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newSubscribeCmd(open openFunc) *cobra.Command {
	var namespace, destination, consumerID, selector string
	var prefetch, priority int
	var exclusive bool
	var count int
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe and print delivered messages until interrupted or --count is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc := workqueues.New(rt)
			sub, err := svc.Subscribe(ctx, workqueues.SubscribeRequest{
				Namespace:   namespace,
				Destination: destination,
				ConsumerID:  consumerID,
				Prefetch:    prefetch,
				Priority:    priority,
				Exclusive:   exclusive,
				Selector:    selector,
			})
			if err != nil {
				return err
			}
			defer svc.Unsubscribe(context.Background(), namespace, destination, consumerID)

			received := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case ref, ok := <-sub.Deliveries():
					if !ok {
						return nil
					}
					msg, err := ref.Body(ctx)
					if err != nil {
						fmt.Fprintln(os.Stderr, "body:", err)
						continue
					}
					fmt.Printf("%s %s\n", msg.ID.String(), base64.StdEncoding.EncodeToString(msg.Payload))
					if err := svc.Acknowledge(ctx, namespace, destination, consumerID, msg.ID.String()); err != nil {
						fmt.Fprintln(os.Stderr, "ack:", err)
					}
					sub.Release(ref)
					received++
					if count > 0 && received >= count {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination name")
	cmd.Flags().StringVar(&consumerID, "consumer", "cli", "Consumer id")
	cmd.Flags().StringVar(&selector, "selector", "", "CEL selector expression")
	cmd.Flags().IntVar(&prefetch, "prefetch", 16, "Prefetch window")
	cmd.Flags().IntVar(&priority, "priority", 0, "Consumer priority")
	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "Exclusive consumer")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many messages (0 = until interrupted)")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newAckCmd(open openFunc) *cobra.Command {
	var namespace, destination, consumerID, msgID string
	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			return workqueues.New(rt).Acknowledge(cmd.Context(), namespace, destination, consumerID, msgID)
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination name")
	cmd.Flags().StringVar(&consumerID, "consumer", "cli", "Consumer id")
	cmd.Flags().StringVar(&msgID, "id", "", "Message id")
	_ = cmd.MarkFlagRequired("destination")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newBrowseCmd(open openFunc) *cobra.Command {
	var namespace, destination, selector string
	var limit int
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse messages matching a selector without removing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			msgs, err := workqueues.New(rt).Browse(cmd.Context(), namespace, destination, selector, limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("%s %s\n", m.ID.String(), base64.StdEncoding.EncodeToString(m.Payload))
			}
			fmt.Println("count:", len(msgs))
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination name")
	cmd.Flags().StringVar(&selector, "selector", "", "CEL selector expression")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max messages to print (0 = unbounded)")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newPurgeCmd(open openFunc) *cobra.Command {
	var namespace, destination string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Discard every message for a destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			return workqueues.New(rt).Purge(cmd.Context(), namespace, destination)
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination name")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newRemoveCmd(open openFunc) *cobra.Command {
	var namespace, destination, selector string
	var max int
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove messages matching a selector",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			n, err := workqueues.New(rt).RemoveMatching(cmd.Context(), namespace, destination, selector, max)
			if err != nil {
				return err
			}
			fmt.Println("removed:", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination name")
	cmd.Flags().StringVar(&selector, "selector", "", "CEL selector expression")
	cmd.Flags().IntVar(&max, "max", 0, "Stop after this many removals (0 = unbounded)")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newCopyCmd(open openFunc) *cobra.Command {
	var namespace, src, dst, selector string
	var max int
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy messages matching a selector from one destination to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			n, err := workqueues.New(rt).CopyMatching(cmd.Context(), namespace, src, dst, selector, max)
			if err != nil {
				return err
			}
			fmt.Println("copied:", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace")
	cmd.Flags().StringVar(&src, "from", "", "Source destination")
	cmd.Flags().StringVar(&dst, "to", "", "Destination destination")
	cmd.Flags().StringVar(&selector, "selector", "", "CEL selector expression")
	cmd.Flags().IntVar(&max, "max", 0, "Stop after this many copies (0 = unbounded)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newMoveCmd(open openFunc) *cobra.Command {
	var namespace, src, dst, selector string
	var max int
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move messages matching a selector from one destination to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			n, err := workqueues.New(rt).MoveMatching(cmd.Context(), namespace, src, dst, selector, max)
			if err != nil {
				return err
			}
			fmt.Println("moved:", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace")
	cmd.Flags().StringVar(&src, "from", "", "Source destination")
	cmd.Flags().StringVar(&dst, "to", "", "Destination destination")
	cmd.Flags().StringVar(&selector, "selector", "", "CEL selector expression")
	cmd.Flags().IntVar(&max, "max", 0, "Stop after this many moves (0 = unbounded)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newListCmd(open openFunc) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List destinations with durable state in a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			names, err := workqueues.New(rt).ListDestinations(cmd.Context(), namespace)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace")
	return cmd
}
