package server

import (
	"context"
	"errors"
	"image"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/escpos-raster-printer/printer"
	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
)

// MockSink is a mock implementation of the Sink interface for testing
type MockSink struct {
	mu        sync.Mutex
	connected bool
	refuse    bool
	sendErr   error
	writeData []byte
	writes    int
}

func (m *MockSink) Connect(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = !m.refuse
	return m.connected
}

func (m *MockSink) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockSink) LastError() error {
	if m.refuse {
		return errors.New("no device")
	}
	return nil
}

func (m *MockSink) SendRaw(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.writeData = append(m.writeData, data...)
	m.writes++
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockSink) data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.writeData...)
}

func startAsync(t *testing.T, sink Sink) *Server {
	t.Helper()
	server := NewWithLogger(sink, "127.0.0.1:0", nil)
	require.NoError(t, server.StartAsync())
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", server.ListenAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewServer(t *testing.T) {
	sink := &MockSink{}
	address := "localhost:9100"

	server := New(sink, address)

	assert.NotNil(t, server)
	assert.Equal(t, address, server.Address())
	assert.False(t, server.IsRunning())
	assert.Nil(t, server.ListenAddr())
	assert.Equal(t, sink, server.Sink())
}

func TestServerStartStop(t *testing.T) {
	sink := &MockSink{}
	server := NewWithLogger(sink, "127.0.0.1:0", nil)

	// Test start async (non-blocking)
	err := server.StartAsync()
	require.NoError(t, err)
	assert.True(t, server.IsRunning())
	assert.True(t, sink.Connected())

	// Test double start
	err = server.StartAsync()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	// Test stop
	err = server.Stop()
	require.NoError(t, err)
	assert.False(t, server.IsRunning())
	assert.False(t, sink.Connected())

	// Test double stop (should not error)
	err = server.Stop()
	assert.NoError(t, err)
}

func TestServerPrinterUnavailable(t *testing.T) {
	sink := &MockSink{refuse: true}
	server := NewWithLogger(sink, "127.0.0.1:0", nil)

	err := server.StartAsync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
	assert.False(t, server.IsRunning())
}

func TestServerConnection(t *testing.T) {
	sink := &MockSink{}
	server := startAsync(t, sink)
	conn := dial(t, server)

	testData := []byte("Hello, Printer!")
	n, err := conn.Write(testData)
	require.NoError(t, err)
	assert.Equal(t, len(testData), n)

	assert.Eventually(t, func() bool {
		return string(sink.data()) == string(testData)
	}, time.Second, 10*time.Millisecond)
}

func TestServerMultipleConnections(t *testing.T) {
	sink := &MockSink{}
	server := startAsync(t, sink)

	numConnections := 3
	for i := 0; i < numConnections; i++ {
		conn := dial(t, server)
		_, err := conn.Write([]byte{byte(i + 1)})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return len(sink.data()) == numConnections
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []byte{1, 2, 3}, sink.data())
}

func TestServerDropsClientOnSendError(t *testing.T) {
	sink := &MockSink{sendErr: errors.New("transfer failed")}
	server := startAsync(t, sink)
	conn := dial(t, server)

	_, err := conn.Write([]byte{0x1B, 0x40})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestServerStopClosesIdleClients(t *testing.T) {
	sink := &MockSink{}
	server := NewWithLogger(sink, "127.0.0.1:0", nil)
	require.NoError(t, server.StartAsync())

	conn := dial(t, server)
	_, err := conn.Write([]byte("x"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(sink.data()) == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan error)
	go func() { done <- server.Stop() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked on an idle client")
	}
}

func TestServerInvalidAddress(t *testing.T) {
	sink := &MockSink{}
	server := New(sink, "invalid:address:9100")

	err := server.StartAsync()
	assert.Error(t, err)
	assert.False(t, server.IsRunning())
	assert.False(t, sink.Connected())
}

func TestServerStartBlocking(t *testing.T) {
	sink := &MockSink{}
	server := NewWithLogger(sink, "127.0.0.1:0", nil)

	// Start server in a goroutine since it blocks
	started := make(chan error, 1)
	go func() {
		started <- server.Start()
	}()

	require.Eventually(t, server.IsRunning, time.Second, 10*time.Millisecond)

	conn := dial(t, server)
	testData := []byte("Blocking test")
	_, err := conn.Write(testData)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return string(sink.data()) == string(testData)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, server.Stop())

	// Wait for Start() to return
	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

// recordingDevice is a printer.Device that keeps every bulk transfer.
type recordingDevice struct {
	mu        sync.Mutex
	transfers [][]byte
	closed    bool
}

func (d *recordingDevice) Opened() bool                    { return true }
func (d *recordingDevice) Open() error                     { return nil }
func (d *recordingDevice) Configuration() (int, error)     { return 1, nil }
func (d *recordingDevice) SelectConfiguration(n int) error { return nil }
func (d *recordingDevice) ClaimInterface(n int) error      { return nil }

func (d *recordingDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *recordingDevice) TransferOut(ctx context.Context, endpoint int, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transfers = append(d.transfers, append([]byte(nil), data...))
	return len(data), nil
}

func (d *recordingDevice) sizes() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []int
	for _, t := range d.transfers {
		out = append(out, len(t))
	}
	return out
}

type staticProvider struct{ dev printer.Device }

func (p staticProvider) Authorized(ctx context.Context, id printer.DeviceID) (printer.Device, error) {
	return p.dev, nil
}

func (p staticProvider) Request(ctx context.Context, id printer.DeviceID) (printer.Device, error) {
	return p.dev, nil
}

type noLayout struct{}

func (noLayout) MeasureWidth(text string, face raster.Face) (int, error) { return 0, nil }

func (noLayout) Render(lines []string, face raster.Face, align raster.Align, width, height, lineHeight int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

func TestServerForwardsThroughSessionInChunks(t *testing.T) {
	dev := &recordingDevice{}
	session := printer.NewSession(staticProvider{dev}, noLayout{}, nil, printer.DefaultOptions(), nil)
	server := startAsync(t, session)

	conn := dial(t, server)
	payload := make([]byte, 100)
	_, err := conn.Write(payload)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		total := 0
		for _, n := range dev.sizes() {
			assert.LessOrEqual(t, n, printer.DefaultChunkSize)
			total += n
		}
		return total == len(payload)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, server.Stop())
	assert.True(t, dev.closed)
	assert.False(t, session.Connected())
}
