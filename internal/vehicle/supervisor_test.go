package vehicle

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/config"
)

// Native API message types the fake controller below speaks.
const (
	msgHelloRequest           = 1
	msgHelloResponse          = 2
	msgConnectRequest         = 3
	msgConnectResponse        = 4
	msgPingRequest            = 7
	msgPingResponse           = 8
	msgDeviceInfoRequest      = 9
	msgDeviceInfoResponse     = 10
	msgListEntitiesRequest    = 11
	msgListEntitiesSensor     = 16
	msgListEntitiesDone       = 19
	msgSubscribeStatesRequest = 20
	msgSensorState            = 25
)

// wireBuilder assembles protobuf payloads field by field for the fake
// controller.
type wireBuilder struct {
	b []byte
}

func (p *wireBuilder) str(num protowire.Number, v string) *wireBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.BytesType)
	p.b = protowire.AppendString(p.b, v)
	return p
}

func (p *wireBuilder) varint(num protowire.Number, v uint64) *wireBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.VarintType)
	p.b = protowire.AppendVarint(p.b, v)
	return p
}

func (p *wireBuilder) fixed32(num protowire.Number, v uint32) *wireBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.Fixed32Type)
	p.b = protowire.AppendFixed32(p.b, v)
	return p
}

func (p *wireBuilder) float(num protowire.Number, v float32) *wireBuilder {
	return p.fixed32(num, math.Float32bits(v))
}

func writeWireFrame(w *bufio.Writer, msgType uint64, payload []byte) error {
	var header []byte
	header = append(header, 0x00)
	header = protowire.AppendVarint(header, uint64(len(payload)))
	header = protowire.AppendVarint(header, msgType)
	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

func readWireVarint(r *bufio.Reader) (uint64, error) {
	var value uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
	}
}

func readWireFrame(r *bufio.Reader) (uint64, []byte, error) {
	if _, err := r.ReadByte(); err != nil {
		return 0, nil, err
	}
	size, err := readWireVarint(r)
	if err != nil {
		return 0, nil, err
	}
	msgType, err := readWireVarint(r)
	if err != nil {
		return 0, nil, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}

// fakeController speaks the device side of the native API on a loopback
// listener and keeps accepting connections, so tests can sever the
// transport and watch the session reconnect.
type fakeController struct {
	t  *testing.T
	ln net.Listener

	mu            sync.Mutex
	conn          net.Conn
	failDiscovery bool
	dials         int
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fc := &fakeController{t: t, ln: ln}
	t.Cleanup(func() { ln.Close() })
	go fc.serve()
	return fc
}

func (fc *fakeController) addr() (string, int) {
	addr := fc.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (fc *fakeController) setFailDiscovery(fail bool) {
	fc.mu.Lock()
	fc.failDiscovery = fail
	fc.mu.Unlock()
}

func (fc *fakeController) dropConnection() {
	fc.mu.Lock()
	if fc.conn != nil {
		fc.conn.Close()
	}
	fc.mu.Unlock()
}

func (fc *fakeController) dialCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.dials
}

func (fc *fakeController) serve() {
	for {
		conn, err := fc.ln.Accept()
		if err != nil {
			return
		}
		fc.mu.Lock()
		fc.conn = conn
		fc.dials++
		fc.mu.Unlock()
		fc.handle(conn)
	}
}

func (fc *fakeController) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	reply := func(msgType uint64, payload []byte) {
		writeWireFrame(w, msgType, payload)
	}

	for {
		msgType, _, err := readWireFrame(r)
		if err != nil {
			return
		}

		switch msgType {
		case msgHelloRequest:
			var pb wireBuilder
			pb.varint(1, 1).varint(2, 10).str(3, "ESPHome 2024.6.0 (fake)").str(4, "tesla-ble")
			reply(msgHelloResponse, pb.b)

		case msgConnectRequest:
			reply(msgConnectResponse, nil)

		case msgDeviceInfoRequest:
			fc.mu.Lock()
			fail := fc.failDiscovery
			fc.mu.Unlock()
			if fail {
				return
			}
			var pb wireBuilder
			pb.str(2, "tesla-ble").str(3, "AA:BB:CC:DD:EE:FF").str(4, "2024.6.0").str(6, "esp32dev")
			reply(msgDeviceInfoResponse, pb.b)

		case msgListEntitiesRequest:
			var sensor wireBuilder
			sensor.str(1, "battery_level").fixed32(2, 1).str(3, "Battery Level").str(6, "%")
			reply(msgListEntitiesSensor, sensor.b)
			reply(msgListEntitiesDone, nil)

		case msgSubscribeStatesRequest:
			var st wireBuilder
			st.fixed32(1, 1).float(2, 72.5)
			reply(msgSensorState, st.b)

		case msgPingRequest:
			reply(msgPingResponse, nil)
		}
	}
}

func newSupervisedSession(fc *fakeController, notifier *entity.Notifier) *Session {
	host, port := fc.addr()
	return NewSession(
		config.VehicleConfig{
			VIN:       "5YJ3TEST",
			Host:      host,
			Port:      port,
			Reconnect: config.ReconnectConfig{InitialDelay: 1, MaxDelay: 2},
		},
		entity.NewRegistry(),
		notifier,
		nil,
	)
}

func waitForState(t *testing.T, s *Session, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

func TestFailedDiscoveryIsNotReady(t *testing.T) {
	fc := newFakeController(t)
	fc.setFailDiscovery(true)

	s := newSupervisedSession(fc, nil)
	ready, err := s.runOnce(context.Background())
	if ready {
		t.Error("runOnce reported ready for a cycle that failed discovery")
	}
	if err == nil {
		t.Error("expected an error from the failed discovery")
	}
	if s.State() == StateReady {
		t.Errorf("state = %s after failed discovery", s.State())
	}
}

func TestSupervisorRecoversFromConnectionDrop(t *testing.T) {
	fc := newFakeController(t)
	notifier := entity.NewNotifier()
	defer notifier.Close()

	s := newSupervisedSession(fc, notifier)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Close()

	waitForState(t, s, StateReady)

	// The subscription delivers the first state right away.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e, err := s.Registry().GetByObjectID("battery_level"); err == nil && e.Value.Type == entity.ValueFloat {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	fc.dropConnection()
	waitForState(t, s, StateDegraded)

	// Cached reads survive the drop.
	e, err := s.Registry().GetByObjectID("battery_level")
	if err != nil {
		t.Fatalf("cached entity gone while degraded: %v", err)
	}
	if e.Value.Float != 72.5 {
		t.Errorf("cached value = %v, want 72.5", e.Value.Float)
	}

	// Commands are refused until the connection is back.
	if err := s.ExecuteCommand(context.Background(), "wake_up", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("ExecuteCommand while degraded = %v, want ErrNotReady", err)
	}

	waitForState(t, s, StateReady)
	if fc.dialCount() < 2 {
		t.Errorf("dials = %d, want at least 2", fc.dialCount())
	}
}
