package filetransfer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mbft/internal/transport"
)

type sent struct {
	protocol byte
	ptype    byte
	payload  []byte
}

// fakeLink records sends and lets the test script peer replies through the
// registered handler.
type fakeLink struct {
	mu        sync.Mutex
	handler   transport.Handler
	prefixes  []string
	sends     []sent
	onSend    func(ptype byte, payload []byte)
	blockSize int
	errCount  uint64
}

func (f *fakeLink) Send(protocol, packetType byte, payload []byte) error {
	f.mu.Lock()
	f.sends = append(f.sends, sent{protocol, packetType, append([]byte(nil), payload...)})
	cb := f.onSend
	f.mu.Unlock()
	if cb != nil {
		cb(packetType, payload)
	}
	return nil
}

func (f *fakeLink) Register(prefixes []string, h transport.Handler) {
	f.prefixes = prefixes
	f.handler = h
}

func (f *fakeLink) BlockSize() int { return f.blockSize }
func (f *fakeLink) Errors() uint64 { return f.errCount }

func (f *fakeLink) reply(token, tail string) { f.handler(token, tail) }

func (f *fakeLink) sentTypes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]byte, len(f.sends))
	for i, s := range f.sends {
		types[i] = s.ptype
	}
	return types
}

func newTestClient(fl *fakeLink) *Client {
	return New(fl, 100*time.Millisecond)
}

func TestRegisteredTokens(t *testing.T) {
	fl := &fakeLink{}
	newTestClient(fl)
	want := []string{"PFT:success", "PFT:version:", "PFT:fail", "PFT:busy", "PFT:ioerror", "PTF:invalid"}
	if len(fl.prefixes) != len(want) {
		t.Fatalf("registered %v, want %v", fl.prefixes, want)
	}
	for i := range want {
		if fl.prefixes[i] != want[i] {
			t.Fatalf("prefix %d = %q, want %q", i, fl.prefixes[i], want[i])
		}
	}
}

func TestConnectParsesVersion(t *testing.T) {
	tests := []struct {
		name string
		tail string
		want Compression
	}{
		{"none", "2.0:none", Compression{Algorithm: "none"}},
		{"heatshrink", "2.0:heatshrink,8,4", Compression{Algorithm: "heatshrink", Window: 8, Lookahead: 4}},
		{"extraField", "0.1.0:host:heatshrink,10,5", Compression{Algorithm: "heatshrink", Window: 10, Lookahead: 5}},
	}
	for _, tc := range tests {
		fl := &fakeLink{}
		c := newTestClient(fl)
		fl.onSend = func(ptype byte, _ []byte) {
			if ptype == packetQuery {
				fl.reply("PFT:version:", tc.tail)
			}
		}
		if err := c.Connect(); err != nil {
			t.Fatalf("%s: Connect: %v", tc.name, err)
		}
		if c.Peer() != tc.want {
			t.Fatalf("%s: compression = %+v, want %+v", tc.name, c.Peer(), tc.want)
		}
		if v := c.Version(); v != "2.0" && v != "0.1.0" {
			t.Fatalf("%s: version = %q", tc.name, v)
		}
	}
}

func TestConnectRejectsNonVersionReply(t *testing.T) {
	fl := &fakeLink{}
	c := newTestClient(fl)
	fl.onSend = func(ptype byte, _ []byte) {
		if ptype == packetQuery {
			fl.reply("PFT:fail", "")
		}
	}
	if err := c.Connect(); !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
}

func TestOpenPayloadLayout(t *testing.T) {
	fl := &fakeLink{}
	c := newTestClient(fl)
	fl.onSend = func(ptype byte, _ []byte) {
		if ptype == packetOpen {
			fl.reply("PFT:success", "")
		}
	}
	if err := c.Open("gcode/part.gco", true, true); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := fl.sends[0].payload
	want := append([]byte{1, 1}, append([]byte("gcode/part.gco"), 0)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("payload\n got  % X\n want % X", got, want)
	}
}

func TestOpenBusyAbortsAndRetries(t *testing.T) {
	sleepFn = func(time.Duration) {}
	defer func() { sleepFn = time.Sleep }()

	fl := &fakeLink{}
	c := newTestClient(fl)
	opens := 0
	fl.onSend = func(ptype byte, _ []byte) {
		switch ptype {
		case packetOpen:
			opens++
			if opens == 1 {
				fl.reply("PFT:busy", "")
				return
			}
			fl.reply("PFT:success", "")
		case packetAbort:
			fl.reply("PFT:success", "")
		}
	}
	if err := c.Open("part.gco", false, false); err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := []byte{packetOpen, packetAbort, packetOpen}
	got := fl.sentTypes()
	if len(got) != len(want) {
		t.Fatalf("sends = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("send %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestOpenFail(t *testing.T) {
	fl := &fakeLink{}
	c := newTestClient(fl)
	fl.onSend = func(ptype byte, _ []byte) {
		if ptype == packetOpen {
			fl.reply("PFT:fail", "")
		}
	}
	if err := c.Open("part.gco", false, false); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}
}

func TestCloseVariants(t *testing.T) {
	for _, token := range []string{"PFT:success", "PFT:ioerror", "PTF:invalid"} {
		fl := &fakeLink{}
		c := newTestClient(fl)
		fl.onSend = func(ptype byte, _ []byte) {
			if ptype == packetClose {
				fl.reply(token, "")
			}
		}
		if err := c.Close(); err != nil {
			t.Fatalf("%s: Close: %v", token, err)
		}
	}
}

// scriptedPeer wires the happy-path replies for a whole Copy.
func scriptedPeer(fl *fakeLink, versionTail string) {
	fl.onSend = func(ptype byte, _ []byte) {
		switch ptype {
		case packetQuery:
			fl.reply("PFT:version:", versionTail)
		case packetOpen, packetClose:
			fl.reply("PFT:success", "")
		}
	}
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "src.gco")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

// A 4097-byte file with 1024-byte blocks must produce exactly five writes of
// sizes 1024,1024,1024,1024,1 between one open and one close.
func TestCopyBlockSplit(t *testing.T) {
	fl := &fakeLink{blockSize: 1024}
	c := newTestClient(fl)
	scriptedPeer(fl, "2.0:none")
	src := writeTempFile(t, 4097)

	if err := c.Copy(src, "dst.gco", false, false); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	types := fl.sentTypes()
	want := []byte{packetQuery, packetOpen, packetWrite, packetWrite, packetWrite, packetWrite, packetWrite, packetClose}
	if len(types) != len(want) {
		t.Fatalf("sends = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("send %d = %d, want %d", i, types[i], want[i])
		}
	}
	wantSizes := []int{1024, 1024, 1024, 1024, 1}
	var total []byte
	for i, s := range fl.sends[2:7] {
		if len(s.payload) != wantSizes[i] {
			t.Fatalf("write %d size = %d, want %d", i, len(s.payload), wantSizes[i])
		}
		total = append(total, s.payload...)
	}
	orig, _ := os.ReadFile(src)
	if !bytes.Equal(total, orig) {
		t.Fatalf("reassembled payload differs from source")
	}
}

func TestCopyFallsBackWithoutPeerSupport(t *testing.T) {
	fl := &fakeLink{blockSize: 512}
	encoderCalled := false
	c := New(fl, 100*time.Millisecond, WithEncoder(func(data []byte, _, _ int) ([]byte, error) {
		encoderCalled = true
		return data, nil
	}))
	scriptedPeer(fl, "2.0:none")
	src := writeTempFile(t, 100)

	if err := c.Copy(src, "dst.gco", true, false); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if encoderCalled {
		t.Fatalf("encoder must not run when the peer lacks heatshrink")
	}
}

func TestCopyCompressed(t *testing.T) {
	fl := &fakeLink{blockSize: 512}
	compressed := []byte("tiny")
	var gotWindow, gotLookahead int
	c := New(fl, 100*time.Millisecond, WithEncoder(func(data []byte, window, lookahead int) ([]byte, error) {
		gotWindow, gotLookahead = window, lookahead
		return compressed, nil
	}))
	scriptedPeer(fl, "2.0:heatshrink,8,4")
	src := writeTempFile(t, 2000)

	if err := c.Copy(src, "dst.gco", true, false); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if gotWindow != 8 || gotLookahead != 4 {
		t.Fatalf("encoder params = %d,%d, want 8,4", gotWindow, gotLookahead)
	}
	var writes [][]byte
	fl.mu.Lock()
	for _, s := range fl.sends {
		if s.ptype == packetWrite {
			writes = append(writes, s.payload)
		}
	}
	fl.mu.Unlock()
	if len(writes) != 1 || !bytes.Equal(writes[0], compressed) {
		t.Fatalf("expected one write of the compressed payload, got %d writes", len(writes))
	}
}

func TestCopyMissingSource(t *testing.T) {
	fl := &fakeLink{blockSize: 512}
	c := newTestClient(fl)
	scriptedPeer(fl, "2.0:none")
	if err := c.Copy(filepath.Join(t.TempDir(), "absent.gco"), "dst.gco", false, false); err == nil {
		t.Fatalf("expected error for missing source file")
	}
}
