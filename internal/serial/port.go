package serial

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability. Reads return within the
// configured timeout; writes are non-blocking because the firmware paces the
// link byte by byte. Flush discards buffered input, used to drop stale or
// corrupt bytes.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// Dialer opens (or reopens) the same device; the transport uses it for the
// reconnect path.
type Dialer func() (Port, error)

func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
