package phxsocket

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/phxsocket/internal/transport"
	"github.com/EgorLis/phxsocket/internal/wire"
)

// ========================= фейковый транспорт =========================

type fakeConn struct {
	in   chan transport.Frame // кадры сервер → клиент
	out  chan transport.Frame // кадры клиент → сервер
	done chan struct{}
	once sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan transport.Frame, 16),
		out:  make(chan transport.Frame, 64),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) Send(fr transport.Frame) error {
	select {
	case <-c.done:
		return errors.New("fake conn closed")
	default:
	}
	select {
	case c.out <- fr:
		return nil
	default:
		return errors.New("fake conn out full")
	}
}

func (c *fakeConn) Receive() (transport.Frame, error) {
	select {
	case fr := <-c.in:
		return fr, nil
	case <-c.done:
		return transport.Frame{}, errors.New("fake conn closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Abort() {
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) aborted() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  error
}

func (d *fakeDialer) dial(string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func textFrame(t *testing.T, env wire.Envelope) transport.Frame {
	t.Helper()
	data, err := wire.Encode(env)
	require.NoError(t, err)
	return transport.Frame{Kind: transport.FrameText, Data: data}
}

// respond отвечает phx_reply с заданным статусом на каждый конверт со
// ссылкой (heartbeat без ссылки пропускается).
func respond(conn *fakeConn, status string, response any) {
	go func() {
		for {
			select {
			case fr := <-conn.out:
				env, err := wire.Decode(fr.Data)
				if err != nil || env.Ref == "" || env.Event == wire.EventReply {
					continue
				}
				data, _ := wire.Encode(wire.Envelope{
					Topic: env.Topic,
					Event: wire.EventReply,
					Ref:   env.Ref,
					Payload: map[string]any{
						"status":   status,
						"response": response,
					},
				})
				select {
				case conn.in <- transport.Frame{Kind: transport.FrameText, Data: data}:
				case <-conn.done:
					return
				}
			case <-conn.done:
				return
			}
		}
	}()
}

func newTestSocket(t *testing.T, cfg Config) (*Socket, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	s := New(cfg, WithDialer(d.dial))
	t.Cleanup(s.Close)
	return s, d
}

// ========================= тесты актора =========================

func TestNextRefMonotonic(t *testing.T) {
	s, _ := newTestSocket(t, Config{Host: "example.org"})

	const workers, perWorker = 8, 50
	var mu sync.Mutex
	seen := make([]uint64, 0, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ref := s.NextRef()
				mu.Lock()
				seen = append(seen, ref)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, ref := range seen {
		require.Equal(t, uint64(i), ref)
	}
}

func TestConnectFailureLeavesSocketUsable(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org"})
	d.setFail(errors.New("refused"))

	require.Error(t, s.Connect())
	assert.False(t, s.Connected())

	// неудачная попытка всё равно запоминает параметры — Reconnect повторяет её
	d.setFail(nil)
	require.NoError(t, s.Reconnect())
	assert.True(t, s.Connected())
}

func TestReconnectBeforeConnect(t *testing.T) {
	s, _ := newTestSocket(t, Config{Host: "example.org"})
	assert.ErrorIs(t, s.Reconnect(), ErrNeverConnected)
}

func TestRoutingIsolatedByTopic(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org"})
	require.NoError(t, s.Connect())

	a := make(chan Message, 1)
	b := make(chan Message, 1)
	s.subscribe(subscription{key: "room:a", kind: subTopic, topic: "room:a", owner: a})
	s.subscribe(subscription{key: "room:b", kind: subTopic, topic: "room:b", owner: b})

	d.last().in <- textFrame(t, wire.Envelope{
		Topic:   "room:a",
		Event:   "new_msg",
		Payload: map[string]any{"text": "hi"},
	})

	select {
	case msg := <-a:
		assert.Equal(t, "new_msg", msg.Event)
		assert.Equal(t, map[string]any{"text": "hi"}, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("subscriber A got nothing")
	}
	select {
	case msg := <-b:
		t.Fatalf("subscriber B leaked message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeReplacesOnKeyCollision(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org"})
	require.NoError(t, s.Connect())

	first := make(chan Message, 1)
	second := make(chan Message, 1)
	s.subscribe(subscription{key: "room:a", kind: subTopic, topic: "room:a", owner: first})
	s.subscribe(subscription{key: "room:a", kind: subTopic, topic: "room:a", owner: second})
	require.Len(t, s.snapshotKeys(), 1)

	d.last().in <- textFrame(t, wire.Envelope{Topic: "room:a", Event: "ping"})

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("replacement subscriber got nothing")
	}
	select {
	case <-first:
		t.Fatal("replaced subscriber still routed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectReplacesWorkerAndTimer(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org", HeartbeatInterval: 200})
	require.NoError(t, s.Connect())
	first := d.last()

	require.NoError(t, s.Connect())
	second := d.last()

	require.Equal(t, 2, d.count())
	assert.True(t, first.aborted())
	assert.False(t, second.aborted())

	// конверты старой эпохи не маршрутизируются
	sub := make(chan Message, 2)
	s.subscribe(subscription{key: "room:x", kind: subTopic, topic: "room:x", owner: sub})
	first.in <- textFrame(t, wire.Envelope{Topic: "room:x", Event: "stale"})
	second.in <- textFrame(t, wire.Envelope{Topic: "room:x", Event: "fresh"})

	select {
	case msg := <-sub:
		assert.Equal(t, "fresh", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("fresh epoch message not routed")
	}
	select {
	case msg := <-sub:
		t.Fatalf("stale epoch message routed: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	// heartbeat живёт только на новом соединении
	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, first.out, "old conn must not receive heartbeats")
	assert.NotEmpty(t, second.out, "new conn must receive heartbeats")
}

func TestHeartbeatCadence(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org", HeartbeatInterval: 50})
	require.NoError(t, s.Connect())
	conn := d.last()

	deadline := time.After(2 * time.Second)
	var beats []wire.Envelope
	for len(beats) < 3 {
		select {
		case fr := <-conn.out:
			env, err := wire.Decode(fr.Data)
			require.NoError(t, err)
			beats = append(beats, env)
		case <-deadline:
			t.Fatalf("only %d heartbeats", len(beats))
		}
	}
	for _, env := range beats {
		assert.Equal(t, wire.TopicPhoenix, env.Topic)
		assert.Equal(t, wire.EventHeartbeat, env.Event)
		assert.Empty(t, env.Ref, "heartbeat is not correlated")
	}
	// и ни одной подписки под heartbeat не заводится
	assert.Empty(t, s.snapshotKeys())
}

func TestCloseFrameBroadcastsAndDisconnects(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org"})
	require.NoError(t, s.Connect())

	sub := make(chan Message, 1)
	s.subscribe(subscription{key: "room:a", kind: subTopic, topic: "room:a", owner: sub})

	d.last().in <- transport.Frame{Kind: transport.FrameClose, Code: 1000, Reason: "bye"}

	select {
	case msg := <-sub:
		require.Error(t, msg.Err)
		assert.ErrorIs(t, msg.Err, ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("no connection-lost notification")
	}

	assert.False(t, s.Connected())

	// явный Reconnect поднимает новое соединение
	require.NoError(t, s.Reconnect())
	assert.True(t, s.Connected())
	assert.Equal(t, 2, d.count())
}

func TestRepeatedReadErrorsBroadcastLost(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org"})
	require.NoError(t, s.Connect())

	sub := make(chan Message, 1)
	s.subscribe(subscription{key: "room:a", kind: subTopic, topic: "room:a", owner: sub})

	// рвём транспорт: воркер получает ошибку на каждом чтении
	d.last().Abort()

	select {
	case msg := <-sub:
		assert.ErrorIs(t, msg.Err, ErrConnectionLost)
	case <-time.After(3 * time.Second):
		t.Fatal("error streak did not surface as connection loss")
	}
	assert.False(t, s.Connected())
}

func TestDecodeErrorSkipsFrame(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org"})
	require.NoError(t, s.Connect())

	sub := make(chan Message, 1)
	s.subscribe(subscription{key: "room:a", kind: subTopic, topic: "room:a", owner: sub})

	d.last().in <- transport.Frame{Kind: transport.FrameText, Data: []byte("{broken")}
	d.last().in <- textFrame(t, wire.Envelope{Topic: "room:a", Event: "after"})

	select {
	case msg := <-sub:
		assert.Equal(t, "after", msg.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive decode error")
	}
	assert.True(t, s.Connected())
}

func TestPingAnsweredWithPong(t *testing.T) {
	s, d := newTestSocket(t, Config{Host: "example.org"})
	require.NoError(t, s.Connect())
	conn := d.last()

	conn.in <- transport.Frame{Kind: transport.FramePing, Data: []byte("ka")}

	deadline := time.After(time.Second)
	for {
		select {
		case fr := <-conn.out:
			if fr.Kind != transport.FramePong {
				continue // heartbeat и прочий трафик
			}
			assert.Equal(t, "ka", string(fr.Data))
			return
		case <-deadline:
			t.Fatal("no pong reply")
		}
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	s, _ := newTestSocket(t, Config{Host: "example.org"})
	err := s.send(wire.Envelope{Topic: "room:a", Event: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEndpointURL(t *testing.T) {
	cfg := Config{
		Host:   "chat.example.org",
		Port:   4000,
		Path:   "/socket/websocket",
		Params: map[string]string{"token": "abc"},
		Secure: true,
	}
	assert.Equal(t,
		"wss://chat.example.org:4000/socket/websocket?token=abc&vsn=1.0.0",
		cfg.endpoint())

	assert.Equal(t, "ws://localhost/?vsn=1.0.0", Config{Host: "localhost"}.endpoint())
}

func TestHeartbeatDefault(t *testing.T) {
	assert.Equal(t, 30*time.Second, Config{}.heartbeat())
	assert.Equal(t, 250*time.Millisecond, Config{HeartbeatInterval: 250}.heartbeat())
}
