package filetransfer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"mbft/internal/heatshrink"
	"mbft/internal/logging"
	"mbft/internal/metrics"
	"mbft/internal/transport"
)

// protocolID is the file I/O application slot on the binary transport.
const protocolID = 1

// Packet types of the file transfer protocol.
const (
	packetQuery byte = iota
	packetOpen
	packetClose
	packetWrite
	packetAbort
)

const (
	openDeadline   = 5 * time.Second
	openAttemptTO  = time.Second
	closeTimeout   = time.Second
	busyRetryDelay = 100 * time.Millisecond
)

// sleepFn allows tests to skip the busy-retry delay.
var sleepFn = time.Sleep

var (
	// ErrOpenFailed means the firmware rejected the open request.
	ErrOpenFailed = errors.New("file transfer: open rejected")

	// ErrHandshake means the version query was answered with something
	// other than a well-formed version reply.
	ErrHandshake = errors.New("file transfer: version query failed")
)

// The PTF spelling of the invalid-session token is a firmware typo kept for
// wire compatibility.
var tokens = []string{"PFT:success", "PFT:version:", "PFT:fail", "PFT:busy", "PFT:ioerror", "PTF:invalid"}

// Link is the slice of the transport the file transfer application needs.
type Link interface {
	Send(protocol, packetType byte, payload []byte) error
	Register(prefixes []string, h transport.Handler)
	BlockSize() int
	Errors() uint64
}

// Compression describes the peer's advertised payload codec.
type Compression struct {
	Algorithm string
	Window    int
	Lookahead int
}

// Encoder compresses a payload with the peer-advertised parameters.
type Encoder func(data []byte, window, lookahead int) ([]byte, error)

type response struct {
	token string
	tail  string
}

// Client implements the file transfer application on top of a Transport.
type Client struct {
	link        Link
	logger      *slog.Logger
	respTimeout time.Duration
	respCh      chan response
	encode      Encoder

	version string
	comp    Compression
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger replaces the global logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEncoder replaces the compression codec (test hook).
func WithEncoder(e Encoder) Option { return func(c *Client) { c.encode = e } }

// New registers the client's tokens on the link. respTimeout gates the
// version-query and abort reply waits (zero or less falls back to one
// second); open and close use their own fixed timeouts.
func New(link Link, respTimeout time.Duration, opts ...Option) *Client {
	if respTimeout <= 0 {
		respTimeout = time.Second
	}
	c := &Client{
		link:        link,
		logger:      logging.L(),
		respTimeout: respTimeout,
		respCh:      make(chan response, 16),
		encode:      heatshrink.Encode,
	}
	for _, o := range opts {
		o(c)
	}
	link.Register(tokens, c.enqueue)
	return c
}

func (c *Client) enqueue(token, tail string) {
	select {
	case c.respCh <- response{token: token, tail: tail}:
	default:
		metrics.IncError(metrics.ErrResponseDrop)
		c.logger.Warn("response_dropped", "token", token)
	}
}

func (c *Client) awaitResponse(d time.Duration) (string, string, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case r := <-c.respCh:
		return r.token, r.tail, nil
	case <-timer.C:
		return "", "", transport.ErrReadTimeout
	}
}

// Version is the peer's file transfer protocol version, set by Connect.
func (c *Client) Version() string { return c.version }

// Peer is the peer's advertised compression capability, set by Connect.
func (c *Client) Peer() Compression { return c.comp }

// Connect queries the firmware's file transfer capability and records its
// version and compression support.
func (c *Client) Connect() error {
	if err := c.link.Send(protocolID, packetQuery, nil); err != nil {
		return err
	}
	token, tail, err := c.awaitResponse(c.respTimeout)
	if err != nil {
		return err
	}
	if token != "PFT:version:" {
		return fmt.Errorf("%w: got %q", ErrHandshake, token)
	}
	// tail is "<version>[:<ignored>]:<compression-spec>" where the spec is
	// either "none" or "<algorithm>,<window>,<lookahead>".
	parts := strings.Split(tail, ":")
	c.version = parts[0]
	spec := parts[len(parts)-1]
	if spec == "none" || spec == "" {
		c.comp = Compression{Algorithm: "none"}
	} else {
		fields := strings.Split(spec, ",")
		if len(fields) != 3 {
			return fmt.Errorf("%w: bad compression spec %q", ErrHandshake, spec)
		}
		window, werr := strconv.Atoi(fields[1])
		lookahead, lerr := strconv.Atoi(fields[2])
		if werr != nil || lerr != nil {
			return fmt.Errorf("%w: bad compression spec %q", ErrHandshake, spec)
		}
		c.comp = Compression{Algorithm: fields[0], Window: window, Lookahead: lookahead}
	}
	c.logger.Info("file_transfer_ready", "version", c.version, "compression", c.comp.Algorithm)
	return nil
}

// Open asks the firmware to open filename for writing. A busy reply means a
// broken transfer is still active: the session is aborted, the open resent
// and the deadline restarted. Per-attempt read timeouts loop until the
// 5-second deadline runs out.
func (c *Client) Open(filename string, compress, dummy bool) error {
	payload := make([]byte, 0, len(filename)+3)
	payload = append(payload, boolByte(dummy), boolByte(compress))
	payload = append(payload, filename...)
	payload = append(payload, 0)

	if err := c.link.Send(protocolID, packetOpen, payload); err != nil {
		return err
	}
	deadline := time.Now().Add(openDeadline)
	for time.Now().Before(deadline) {
		token, _, err := c.awaitResponse(openAttemptTO)
		if err != nil {
			continue
		}
		switch token {
		case "PFT:success":
			c.logger.Info("file_opened", "name", filename, "dummy", dummy)
			return nil
		case "PFT:busy":
			c.logger.Info("stale_transfer_purge")
			_ = c.Abort()
			sleepFn(busyRetryDelay)
			if err := c.link.Send(protocolID, packetOpen, payload); err != nil {
				return err
			}
			deadline = time.Now().Add(openDeadline)
		case "PFT:fail":
			return fmt.Errorf("%w: %s", ErrOpenFailed, filename)
		}
	}
	return transport.ErrReadTimeout
}

// Write streams one block of file data. Delivery is guaranteed by the
// transport's per-packet ack; there is no application-level reply.
func (c *Client) Write(data []byte) error {
	return c.link.Send(protocolID, packetWrite, data)
}

// Close finalizes the open file on the firmware side.
func (c *Client) Close() error {
	if err := c.link.Send(protocolID, packetClose, nil); err != nil {
		return err
	}
	token, _, err := c.awaitResponse(closeTimeout)
	if err != nil {
		return err
	}
	switch token {
	case "PFT:success":
		c.logger.Info("file_closed")
	case "PFT:ioerror":
		c.logger.Warn("peer_storage_error")
	case "PFT:invalid", "PTF:invalid":
		c.logger.Warn("no_open_file")
	}
	return nil
}

// Abort purges any active transfer session.
func (c *Client) Abort() error {
	if err := c.link.Send(protocolID, packetAbort, nil); err != nil {
		return err
	}
	token, _, err := c.awaitResponse(c.respTimeout)
	if err != nil {
		return err
	}
	if token == "PFT:success" {
		c.logger.Info("transfer_aborted")
	}
	return nil
}

// Copy transfers the file at src to dst on the firmware, optionally
// compressed when both sides support heatshrink. dummy makes the peer
// discard payload bytes, which measures link throughput without storage.
func (c *Client) Copy(src, dst string, compress, dummy bool) error {
	if err := c.Connect(); err != nil {
		return err
	}
	useCompression := compress && c.comp.Algorithm == "heatshrink"
	if compress && !useCompression {
		c.logger.Warn("compression_unsupported", "peer_algorithm", c.comp.Algorithm)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	originalSize := len(data)

	if err := c.Open(dst, useCompression, dummy); err != nil {
		return err
	}
	if useCompression {
		encoded, err := c.encode(data, c.comp.Window, c.comp.Lookahead)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		data = encoded
	}
	ratio := float64(originalSize) / float64(max(len(data), 1))

	blockSize := c.link.BlockSize()
	blocks := (len(data) + blockSize - 1) / blockSize
	start := time.Now()
	for i := 0; i < blocks; i++ {
		end := min((i+1)*blockSize, len(data))
		if err := c.Write(data[i*blockSize : end]); err != nil {
			return err
		}
		metrics.IncBlock()
		elapsed := max(time.Since(start).Seconds(), 0.001)
		kibs := float64(end) / 1024 / elapsed
		c.logger.Info("progress",
			"percent", fmt.Sprintf("%.2f", float64(i+1)/float64(blocks)*100),
			"kib_s", fmt.Sprintf("%.2f", kibs),
			"effective_kib_s", fmt.Sprintf("%.2f", kibs*ratio),
			"errors", c.link.Errors(),
		)
	}
	if err := c.Close(); err != nil {
		return err
	}
	c.logger.Info("transfer_complete", "bytes", originalSize, "blocks", blocks)
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
