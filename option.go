package msgsock

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default configuration values.
const (
	// DefaultPollInterval bounds each readiness wait of the server loop.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultReceiveTimeout bounds each client read attempt.
	DefaultReceiveTimeout = 500 * time.Millisecond
	// defaultWaitingEvery is how many idle poll timeouts pass between waiting messages.
	defaultWaitingEvery = 4
	// defaultAcceptTimeout caps how long a ready listener may stall an accept.
	defaultAcceptTimeout = 10 * time.Millisecond
)

// serverOptions holds the configuration of a Server.
type serverOptions struct {
	logger  Logger
	metrics *metrics

	pollInterval  time.Duration
	acceptTimeout time.Duration

	// terminateOnKeypress watches control for input and stops the loop when a line arrives.
	terminateOnKeypress bool
	control             *os.File

	waitingMessage string // logged while idle; empty suppresses it
	waitingEvery   int
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// ServerMetricsOption registers the server's Prometheus collectors with reg.
func ServerMetricsOption(reg prometheus.Registerer) ServerOption {
	return func(o *serverOptions) {
		o.metrics = newMetrics(reg, "server")
	}
}

// PollIntervalOption sets the bound of each readiness wait.
// Termination requests are noticed within one interval.
func PollIntervalOption(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.pollInterval = d
	}
}

// AcceptTimeoutOption sets how long accepting a pending connection may block.
func AcceptTimeoutOption(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.acceptTimeout = d
	}
}

// TerminateOnKeypressOption makes the loop stop when a line is entered on the
// control input (stdin unless ControlInputOption is given). The loop consumes
// the whole line, so input without a trailing newline stalls it until the
// newline arrives.
func TerminateOnKeypressOption(enabled bool) ServerOption {
	return func(o *serverOptions) {
		o.terminateOnKeypress = enabled
	}
}

// ControlInputOption sets the file watched for terminate keypresses.
func ControlInputOption(f *os.File) ServerOption {
	return func(o *serverOptions) {
		o.control = f
	}
}

// WaitingMessageOption logs msg after every `every` idle poll timeouts.
// An empty msg suppresses the progress message; every <= 0 uses the default of 4.
func WaitingMessageOption(msg string, every int) ServerOption {
	return func(o *serverOptions) {
		o.waitingMessage = msg
		o.waitingEvery = every
	}
}

func checkServerOptions(o *serverOptions) {
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.acceptTimeout <= 0 {
		o.acceptTimeout = defaultAcceptTimeout
	}
	if o.waitingEvery <= 0 {
		o.waitingEvery = defaultWaitingEvery
	}
	if o.control == nil {
		o.control = os.Stdin
	}
}

// clientOptions holds the configuration of a Client.
type clientOptions struct {
	logger         Logger
	metrics        *metrics
	receiveTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// ClientLoggerOption sets the logger for the client.
func ClientLoggerOption(logger Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// ClientMetricsOption registers the client's Prometheus collectors with reg.
func ClientMetricsOption(reg prometheus.Registerer) ClientOption {
	return func(o *clientOptions) {
		o.metrics = newMetrics(reg, "client")
	}
}

// ReceiveTimeoutOption sets the bound of each read attempt made by Receive.
// Termination is noticed within one timeout.
func ReceiveTimeoutOption(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.receiveTimeout = d
	}
}

func checkClientOptions(o *clientOptions) {
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.receiveTimeout <= 0 {
		o.receiveTimeout = DefaultReceiveTimeout
	}
}
