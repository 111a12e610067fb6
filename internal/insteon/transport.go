package insteon

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
)

// plmBaudRate is the fixed modem line rate for PowerLinc hardware. The
// config can override it for hub models that expose a different rate.
const plmBaudRate = 19200

// Transport is a byte stream to the Insteon modem. Implementations carry
// the model-specific link (serial line, raw TCP, or HTTP buffer polling);
// everything above them speaks identical PLM frames.
type Transport interface {
	io.ReadWriteCloser

	// Open establishes the link. Safe to call again after Close.
	Open(ctx context.Context) error
}

// NewTransport selects the transport for the configured hub model.
func NewTransport(cfg config.HubConfig) (Transport, error) {
	switch cfg.Model {
	case "2243", "plm":
		baud := cfg.BaudRate
		if baud == 0 {
			baud = plmBaudRate
		}
		return &serialTransport{device: cfg.Host, baud: baud}, nil
	case "2242":
		return &tcpTransport{addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}, nil
	case "2245":
		return newHTTPTransport(cfg), nil
	default:
		return nil, fmt.Errorf("insteon: unsupported hub model %q", cfg.Model)
	}
}

// serialTransport drives a directly attached PowerLinc modem (models 2243
// and plm) over its serial line, 8N1.
type serialTransport struct {
	device string
	baud   int
	port   serial.Port

	// openPort defaults to serial.Open; tests substitute it.
	openPort func(name string, mode *serial.Mode) (serial.Port, error)
}

func (t *serialTransport) Open(_ context.Context) error {
	// Reconnects land here with the old handle still held.
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}

	mode := &serial.Mode{
		BaudRate: t.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	open := t.openPort
	if open == nil {
		open = serial.Open
	}
	port, err := open(t.device, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", t.device, err)
	}
	t.port = port
	return nil
}

func (t *serialTransport) Read(p []byte) (int, error) {
	if t.port == nil {
		return 0, io.ErrClosedPipe
	}
	return t.port.Read(p)
}

func (t *serialTransport) Write(p []byte) (int, error) {
	if t.port == nil {
		return 0, io.ErrClosedPipe
	}
	return t.port.Write(p)
}

func (t *serialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// tcpTransport connects to an IP-direct hub (model 2242), which exposes
// the raw PLM stream on a TCP port.
type tcpTransport struct {
	addr string
	conn net.Conn
}

func (t *tcpTransport) Open(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial hub %s: %w", t.addr, err)
	}
	t.conn = conn
	return nil
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	if t.conn == nil {
		return 0, io.ErrClosedPipe
	}
	return t.conn.Read(p)
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	if t.conn == nil {
		return 0, io.ErrClosedPipe
	}
	return t.conn.Write(p)
}

func (t *tcpTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// httpTransport adapts the model 2245 hub, which has no streaming
// interface. Outbound frames are sent as HTTP commands; inbound bytes are
// recovered by polling the hub's ring buffer and diffing against the
// previously seen contents.
type httpTransport struct {
	base     string
	username string
	password string
	client   *http.Client

	pollInterval time.Duration
	lastBuffer   string
	pending      []byte
	closed       chan struct{}
}

func newHTTPTransport(cfg config.HubConfig) *httpTransport {
	return &httpTransport{
		base:         fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		username:     cfg.Username,
		password:     cfg.Password,
		client:       &http.Client{Timeout: 10 * time.Second},
		pollInterval: 200 * time.Millisecond,
	}
}

// Open verifies credentials and clears the hub's ring buffer so polling
// starts from a known-empty state.
func (t *httpTransport) Open(ctx context.Context) error {
	t.closed = make(chan struct{})
	t.lastBuffer = ""
	t.pending = nil
	if err := t.get(ctx, "/1?XB=M=1"); err != nil {
		return fmt.Errorf("clear hub buffer: %w", err)
	}
	return nil
}

// Write submits one PLM frame as a hub HTTP command. The hub expects the
// frame hex-encoded, uppercase, without the separate port write semantics
// of the streaming models.
func (t *httpTransport) Write(p []byte) (int, error) {
	encoded := strings.ToUpper(hex.EncodeToString(p))
	if err := t.get(context.Background(), "/3?"+encoded+"=I=3"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read polls the buffer endpoint until new bytes appear or the transport
// is closed.
func (t *httpTransport) Read(p []byte) (int, error) {
	for {
		if len(t.pending) > 0 {
			n := copy(p, t.pending)
			t.pending = t.pending[n:]
			return n, nil
		}

		select {
		case <-t.closed:
			return 0, io.EOF
		case <-time.After(t.pollInterval):
		}

		fresh, err := t.poll()
		if err != nil {
			return 0, err
		}
		t.pending = append(t.pending, fresh...)
	}
}

// poll fetches the hub ring buffer and returns only bytes not seen on the
// previous poll.
func (t *httpTransport) poll() ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, t.base+"/buffstatus.xml", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(t.username, t.password)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll hub buffer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll hub buffer: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	buffer := extractBuffer(string(body))
	fresh := diffBuffer(t.lastBuffer, buffer)
	t.lastBuffer = buffer

	decoded, err := hex.DecodeString(fresh)
	if err != nil {
		return nil, fmt.Errorf("decode hub buffer: %w", err)
	}
	return decoded, nil
}

func (t *httpTransport) Close() error {
	if t.closed != nil {
		select {
		case <-t.closed:
		default:
			close(t.closed)
		}
	}
	return nil
}

func (t *httpTransport) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.username, t.password)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("hub rejected credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hub returned status %d", resp.StatusCode)
	}
	//nolint:errcheck // Body must be drained for connection reuse
	io.Copy(io.Discard, resp.Body)
	return nil
}

// extractBuffer pulls the hex payload out of the buffstatus XML document.
// The document is a single <BS> element; anything else yields empty.
func extractBuffer(body string) string {
	start := strings.Index(body, "<BS>")
	end := strings.Index(body, "</BS>")
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	payload := strings.TrimSpace(body[start+len("<BS>") : end])

	// The final two digits are the write cursor into the ring; bytes past
	// it are stale. Truncate there and drop the cursor itself.
	if len(payload) < 2 {
		return ""
	}
	cursor := payload[len(payload)-2:]
	var pos int
	if _, err := fmt.Sscanf(cursor, "%02X", &pos); err != nil {
		return ""
	}
	payload = payload[:len(payload)-2]
	if pos*2 <= len(payload) {
		payload = payload[:pos*2]
	}
	return payload
}

// diffBuffer returns the hex digits appended since the previous snapshot.
// A shrunken or rewritten buffer means the hub wrapped or was cleared; the
// whole snapshot is then treated as new.
func diffBuffer(prev, cur string) string {
	if prev != "" && strings.HasPrefix(cur, prev) {
		return cur[len(prev):]
	}
	if cur == prev {
		return ""
	}
	return cur
}
