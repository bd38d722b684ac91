// Package device reads newline-terminated frames from the microcontroller's serial port.
package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// ErrTransportFatal wraps read failures that end the connection.
var ErrTransportFatal = errors.New("device transport failure")

const (
	chunkSize = 1024
	// maxPending bounds the bytes buffered between polls. The device may emit
	// faster than the sensor poll interval drains it.
	maxPending = 64 * 1024
)

type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// Conn is a line reader over the serial port. It is not safe for concurrent
// use; Close may be called once the reading goroutine is done.
type Conn struct {
	rc     io.ReadCloser
	logger *slog.Logger
	name   string

	buf   []byte
	chunk []byte

	closeOnce sync.Once
	closeErr  error
}

// Open opens the serial port. Reads block for at most cfg.ReadTimeout.
func Open(cfg Config, logger *slog.Logger) (*Conn, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	logger.Info("serial port opened", "port", cfg.Port, "baud", cfg.Baud)
	return New(port, cfg.Port, logger), nil
}

// New wraps an already open byte stream.
func New(rc io.ReadCloser, name string, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		rc:     rc,
		logger: logger,
		name:   name,
		chunk:  make([]byte, chunkSize),
	}
}

// Buffered returns the number of bytes already read from the port but not yet
// returned as lines. It does not query the driver, so bytes still waiting in
// the OS receive buffer are not counted.
func (c *Conn) Buffered() int {
	return len(c.buf)
}

// ReadLine returns the next complete line without its terminator. When no
// complete line is buffered it performs one bounded read of the port; ok is
// false if a line is still incomplete afterwards. Only transport failures
// are returned as errors, wrapped in ErrTransportFatal.
func (c *Conn) ReadLine() (line string, ok bool, err error) {
	if line, ok := c.popLine(); ok {
		return line, true, nil
	}
	if err := c.fill(); err != nil {
		return "", false, err
	}
	line, ok = c.popLine()
	return line, ok, nil
}

// Close releases the port. Only the first call closes it.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rc.Close()
		c.logger.Info("serial port closed", "port", c.name)
	})
	return c.closeErr
}

func (c *Conn) fill() error {
	n, err := c.rc.Read(c.chunk)
	if n > 0 {
		c.buf = append(c.buf, c.chunk[:n]...)
		c.trim()
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), isTimeout(err):
		// A read timeout with nothing received surfaces as EOF on posix ports.
		return nil
	default:
		return fmt.Errorf("%w: read %s: %v", ErrTransportFatal, c.name, err)
	}
}

func (c *Conn) popLine() (string, bool) {
	i := bytes.IndexByte(c.buf, '\n')
	if i < 0 {
		return "", false
	}
	line := strings.ToValidUTF8(string(bytes.TrimSuffix(c.buf[:i], []byte("\r"))), "")
	n := copy(c.buf, c.buf[i+1:])
	c.buf = c.buf[:n]
	return line, true
}

// trim drops the oldest lines once more than maxPending bytes are waiting.
func (c *Conn) trim() {
	if len(c.buf) <= maxPending {
		return
	}
	drop := len(c.buf) - maxPending
	if i := bytes.IndexByte(c.buf[drop:], '\n'); i >= 0 {
		drop += i + 1
	} else {
		drop = len(c.buf)
	}
	n := copy(c.buf, c.buf[drop:])
	c.buf = c.buf[:n]
	c.logger.Warn("serial buffer overflow, dropped oldest data", "port", c.name, "dropped_bytes", drop)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
