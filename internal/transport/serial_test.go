// internal/transport/serial_test.go
package transport

import (
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/instrument"
)

// fakePort is an in-memory serial port. Read pops one byte per call and
// reports (0, nil) when drained, matching the timeout behavior of the real
// layer.
type fakePort struct {
	readData []byte
	written  []byte
	drains   int
	closed   bool
	readErr  error
	writeErr error
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.readData) == 0 {
		return 0, nil
	}
	b[0] = p.readData[0]
	p.readData = p.readData[1:]
	return 1, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error                        { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }
func (p *fakePort) Drain() error                        { p.drains++; return nil }

func newTestTransport(fp *fakePort, openErr error) *SerialTransport {
	st := New(Config{Port: "/dev/ttyUSB0", BaudRate: 19200}, zap.NewNop())
	st.open = func(name string, baudRate int) (port, error) {
		if openErr != nil {
			return nil, openErr
		}
		return fp, nil
	}
	return st
}

func TestWriteLineAppendsTerminatorAndDrains(t *testing.T) {
	fp := &fakePort{}
	st := newTestTransport(fp, nil)

	if err := st.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := st.WriteLine("MEAS:VOLT?"); err != nil {
		t.Fatalf("WriteLine failed: %v", err)
	}

	if got := string(fp.written); got != "MEAS:VOLT?\r" {
		t.Errorf("wrote %q, want %q", got, "MEAS:VOLT?\r")
	}
	if fp.drains != 1 {
		t.Errorf("Drain called %d times, want 1", fp.drains)
	}
}

func TestReadLineStripsTerminators(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"lf only", "12.500\n", "12.500"},
		{"crlf", "12.500\r\n", "12.500"},
		{"identity line", "Sorensen,DCS60-50E,12345,1.00\r\n", "Sorensen,DCS60-50E,12345,1.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakePort{readData: []byte(tt.data)}
			st := newTestTransport(fp, nil)
			if err := st.Open(); err != nil {
				t.Fatalf("Open failed: %v", err)
			}

			got, err := st.ReadLine(time.Second)
			if err != nil {
				t.Fatalf("ReadLine failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadLine = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadLineTimeout(t *testing.T) {
	// Partial line, no terminator: the deadline must fire.
	fp := &fakePort{readData: []byte("12.5")}
	st := newTestTransport(fp, nil)
	if err := st.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err := st.ReadLine(20 * time.Millisecond)
	if !errors.Is(err, instrument.ErrReadTimeout) {
		t.Errorf("ReadLine error = %v, want ErrReadTimeout", err)
	}
}

// streamingPort emits a non-terminator byte on every read, like a device at
// the wrong baud rate. delay paces the byte stream.
type streamingPort struct {
	fakePort
	delay time.Duration
}

func (p *streamingPort) Read(b []byte) (int, error) {
	time.Sleep(p.delay)
	b[0] = 'x'
	return 1, nil
}

func TestReadLineDeadlineOnEndlessStream(t *testing.T) {
	// A port that never goes quiet must still hit the deadline.
	st := New(Config{Port: "/dev/ttyUSB0", BaudRate: 19200}, zap.NewNop())
	st.open = func(name string, baudRate int) (port, error) {
		return &streamingPort{delay: time.Millisecond}, nil
	}
	if err := st.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := st.ReadLine(50 * time.Millisecond)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, instrument.ErrReadTimeout) {
			t.Errorf("ReadLine error = %v, want ErrReadTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine still blocked long after its deadline")
	}
}

func TestReadLineCapsUnterminatedLine(t *testing.T) {
	st := New(Config{Port: "/dev/ttyUSB0", BaudRate: 19200}, zap.NewNop())
	st.open = func(name string, baudRate int) (port, error) {
		return &streamingPort{}, nil
	}
	if err := st.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// A generous deadline: the length cap must fire first.
	_, err := st.ReadLine(5 * time.Second)
	if !errors.Is(err, instrument.ErrRead) {
		t.Errorf("ReadLine error = %v, want ErrRead from the line cap", err)
	}
	if errors.Is(err, instrument.ErrReadTimeout) {
		t.Error("line overrun must not classify as a timeout")
	}
}

func TestReadLineHardError(t *testing.T) {
	fp := &fakePort{readErr: errors.New("device gone")}
	st := newTestTransport(fp, nil)
	if err := st.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err := st.ReadLine(time.Second)
	if !errors.Is(err, instrument.ErrRead) {
		t.Errorf("ReadLine error = %v, want ErrRead", err)
	}
	if errors.Is(err, instrument.ErrReadTimeout) {
		t.Error("hard read failure must not classify as a timeout")
	}
}

func TestOpenClassifiesErrors(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"generic failure", errors.New("no such device"), instrument.ErrPortUnavailable},
		{"permission", os.ErrPermission, instrument.ErrPortAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestTransport(nil, tt.openErr)
			err := st.Open()
			if !errors.Is(err, tt.want) {
				t.Errorf("Open error = %v, want %v", err, tt.want)
			}
			if st.IsOpen() {
				t.Error("transport reports open after failed Open")
			}
		})
	}
}

func TestWriteAndReadOnClosedPort(t *testing.T) {
	fp := &fakePort{}
	st := newTestTransport(fp, nil)

	if err := st.WriteLine("X"); !errors.Is(err, instrument.ErrWrite) {
		t.Errorf("WriteLine on closed port = %v, want ErrWrite", err)
	}
	if _, err := st.ReadLine(time.Second); !errors.Is(err, instrument.ErrRead) {
		t.Errorf("ReadLine on closed port = %v, want ErrRead", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fp := &fakePort{}
	st := newTestTransport(fp, nil)
	if err := st.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if !fp.closed {
		t.Error("underlying port not closed")
	}
	if st.IsOpen() {
		t.Error("transport reports open after Close")
	}
}

func TestOpenIsIdempotentWhileOpen(t *testing.T) {
	fp := &fakePort{}
	st := newTestTransport(fp, nil)
	if err := st.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := st.Open(); err != nil {
		t.Fatalf("Open on open transport failed: %v", err)
	}
}
