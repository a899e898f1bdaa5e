package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Zereker/msgsock"
)

func serverCmd() *cobra.Command {
	var (
		addr        string
		port        int
		metricsAddr string
		greeting    string
		window      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept clients, print their messages and greet them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(addr, port, metricsAddr, greeting, window)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1", "IPv4 address to bind")
	cmd.Flags().IntVarP(&port, "port", "p", defaultPort, "TCP port to bind")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	cmd.Flags().StringVar(&greeting, "greeting", "Hello from the server!", "Message broadcast to clients")
	cmd.Flags().DurationVar(&window, "window", time.Second, "Resend the greeting to every client after this long (0 sends once)")

	return cmd
}

func runServer(addr string, port int, metricsAddr, greeting string, window time.Duration) error {
	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	opts := []msgsock.ServerOption{
		msgsock.ServerLoggerOption(slog.Default()),
		msgsock.ServerMetricsOption(reg),
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		opts = append(opts,
			msgsock.TerminateOnKeypressOption(true),
			msgsock.WaitingMessageOption("Waiting for receive. Press <Enter> to terminate.", 0),
		)
	} else {
		opts = append(opts, msgsock.WaitingMessageOption("Waiting for receive.", 0))
	}

	srv := msgsock.NewServer(opts...)
	if err := srv.Connect(addr, port); err != nil {
		return err
	}
	defer srv.Close()

	conns := newConnections()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the other goroutines stop with the loop, including after a keypress
		defer cancel()
		err := srv.ListenForMessages(gctx, conns)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		pending := broadcast(gctx, srv, conns, greeting, window)
		if pending > 0 {
			slog.Warn("greeting not delivered", "clients", pending)
		}
		return nil
	})

	if metricsAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpSrv := &http.Server{Addr: metricsAddr, Handler: r}

		g.Go(func() error {
			slog.Info("serving metrics", "addr", metricsAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// connections tracks the clients of the demo server in accept order together
// with the number of messages each has sent.
type connections struct {
	mu       sync.Mutex
	order    []msgsock.Socket
	counts   map[msgsock.Socket]uint
	received bool
}

func newConnections() *connections {
	return &connections{counts: make(map[msgsock.Socket]uint)}
}

func (c *connections) OnConnectionAdded(sock msgsock.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = append(c.order, sock)
	c.counts[sock] = 0
}

func (c *connections) OnConnectionDropped(sock msgsock.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.order {
		if s == sock {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	delete(c.counts, sock)
}

func (c *connections) OnMessage(sock msgsock.Socket, payload []byte) {
	c.mu.Lock()
	count, ok := c.counts[sock]
	if ok {
		count++
		c.counts[sock] = count
	}
	c.received = true
	c.mu.Unlock()

	if !ok {
		slog.Warn("message from unknown socket", "socket", sock)
	}

	text := printable(payload)
	// filler dots are shown only on every 256th message of a client
	if count&0xFF != 0 {
		text = strings.TrimLeft(text, ".")
	}
	fmt.Printf("RECEIVED %q\n", text)
}

func (c *connections) receivedAny() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// snapshot returns the sockets in accept order and their message counts.
func (c *connections) snapshot() ([]msgsock.Socket, map[msgsock.Socket]uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order := append([]msgsock.Socket(nil), c.order...)
	counts := make(map[msgsock.Socket]uint, len(c.counts))
	for sock, n := range c.counts {
		counts[sock] = n
	}
	return order, counts
}

// broadcast sends greeting to every client once it has sent a message,
// retrying the others on a backoff schedule until ctx is done. With a non-zero
// window every client is greeted again each time the window elapses. It
// returns the number of clients still waiting for the greeting.
func broadcast(ctx context.Context, srv *msgsock.Server, conns *connections, greeting string, window time.Duration) int {
	slog.Info("starting broadcaster")
	defer slog.Info("broadcaster stopped")

	for !conns.receivedAny() {
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(250 * time.Millisecond):
		}
	}

	payload := append([]byte(greeting), 0)
	done := make(map[msgsock.Socket]bool)
	pending := sendPass(srv, conns, payload, done)

	b := msgsock.Backoff{Window: window}
	for {
		delay, reset := b.Next()
		select {
		case <-ctx.Done():
			return pending
		case <-time.After(delay):
		}

		pending = sendPass(srv, conns, payload, done)
		if reset {
			clear(done)
		}
	}
}

// sendPass greets every client not yet in done and returns how many could not
// be greeted. Clients that have not sent anything yet are skipped.
func sendPass(srv *msgsock.Server, conns *connections, payload []byte, done map[msgsock.Socket]bool) int {
	order, counts := conns.snapshot()

	pending := 0
	for _, sock := range order {
		if done[sock] {
			continue
		}
		if counts[sock] == 0 {
			pending++
			continue
		}

		err := srv.Send(sock, payload, true)
		switch {
		case err == nil, errors.Is(err, msgsock.ErrNotConnected):
			done[sock] = true
		case msgsock.IsTemporary(err):
			pending++
		default:
			slog.Debug("greeting failed", "socket", sock, "error", err)
			pending++
		}
	}
	return pending
}
