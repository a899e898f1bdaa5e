package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/msgsock"
)

type clientConfig struct {
	addr        string
	port        int
	message     string
	count       int
	filler      int
	random      bool
	printSent   bool
	sendTimeout time.Duration
	linger      time.Duration
}

func clientCmd() *cobra.Command {
	var cfg clientConfig

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send numbered messages to a server and print its replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.count < 1 {
				cfg.count = 1
			}
			return runClient(cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "127.0.0.1", "IPv4 address of the server")
	cmd.Flags().IntVarP(&cfg.port, "port", "p", defaultPort, "TCP port of the server")
	cmd.Flags().StringVarP(&cfg.message, "message", "m", "Hello from the client", "Message text; the message number is appended")
	cmd.Flags().IntVarP(&cfg.count, "count", "n", 1, "Number of messages to send")
	cmd.Flags().IntVar(&cfg.filler, "filler", 0, "Prefix each message with this many dots")
	cmd.Flags().BoolVar(&cfg.random, "random", false, "Wait a random time below 131ms between messages")
	cmd.Flags().BoolVar(&cfg.printSent, "print-sent", false, "Print every message sent")
	cmd.Flags().DurationVar(&cfg.sendTimeout, "send-timeout", 2*time.Second, "Bound of each blocking send (0 waits indefinitely)")
	cmd.Flags().DurationVar(&cfg.linger, "linger", 2*time.Second, "Keep receiving this long after the last message was sent")

	return cmd
}

func runClient(cfg clientConfig) error {
	ctx, stop := signalContext()
	defer stop()

	c, err := msgsock.Dial(ctx, cfg.addr, cfg.port, cfg.sendTimeout, msgsock.ClientLoggerOption(slog.Default()))
	if err != nil {
		return err
	}
	defer c.Close()

	var g errgroup.Group

	g.Go(func() error {
		for {
			msg, err := c.Receive()
			if err != nil {
				if errors.Is(err, msgsock.ErrTerminated) {
					return nil
				}
				return errors.Wrap(err, "receive")
			}
			fmt.Printf("Client received: %s\n", printable(msg))
		}
	})

	g.Go(func() error {
		defer c.Terminate()

		if err := sendMessages(ctx, c, cfg); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
		case <-time.After(cfg.linger):
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("client finished", "received", c.Received())
	return nil
}

// sendMessages sends cfg.count numbered messages. Until the first reply
// arrives every send after the first waits 250ms.
func sendMessages(ctx context.Context, c *msgsock.Client, cfg clientConfig) error {
	slog.Info("sending messages", "count", cfg.count)

	filler := strings.Repeat(".", cfg.filler)
	for i := 0; i < cfg.count; i++ {
		var wait time.Duration
		switch {
		case i > 0 && c.Received() == 0:
			wait = 250 * time.Millisecond
		case cfg.random:
			wait = rand.N(131072 * time.Microsecond)
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		payload := append([]byte(fmt.Sprintf("%s%s %d", filler, cfg.message, i)), 0)
		if err := c.Send(payload, false); err != nil {
			return errors.Wrapf(err, "send message %d", i)
		}
		if cfg.printSent {
			fmt.Printf("Sent msg %d\n", i)
		}
	}
	return nil
}
