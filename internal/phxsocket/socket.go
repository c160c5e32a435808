package phxsocket

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/EgorLis/phxsocket/internal/transport"
	"github.com/EgorLis/phxsocket/internal/wire"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrNeverConnected = errors.New("reconnect before first connect")
	ErrSocketClosed   = errors.New("socket terminated")
	ErrConnectionLost = errors.New("connection lost")
	ErrTimeout        = errors.New("timeout waiting for reply")
)

const (
	defaultHeartbeatMS = 30000
	defaultTimeout     = 5 * time.Second
	// Жёсткий потолок ожидания ответа, независимый от таймаута вызова.
	maxReceiveWait = time.Minute
	// Сколько подряд ошибок чтения считаем потерей соединения.
	errStreakLimit = 3
	mailboxSize    = 64
)

// Config — параметры подключения (читается из JSON, см. conf/*.json).
type Config struct {
	Host              string            `json:"host"`
	Port              int               `json:"port,omitempty"`
	Path              string            `json:"path,omitempty"`
	Params            map[string]string `json:"params,omitempty"`
	Secure            bool              `json:"secure,omitempty"`
	HeartbeatInterval int               `json:"heartbeat_interval,omitempty"` // мс
}

func (c Config) heartbeat() time.Duration {
	ms := c.HeartbeatInterval
	if ms <= 0 {
		ms = defaultHeartbeatMS
	}
	return time.Duration(ms) * time.Millisecond
}

// Socket — актор соединения: владеет транспортом, счётчиком ссылок,
// таблицей подписок и таймером heartbeat. Поля после mailbox трогает
// только горутина run — мьютексы не нужны.
type Socket struct {
	cfg  Config
	dial transport.Dialer
	log  zerolog.Logger

	calls chan func()
	quit  chan struct{}
	stop  sync.Once

	// состояние актора (только из run):
	conn     transport.Conn
	stopRead chan struct{}
	hbTimer  *time.Timer
	epoch    int
	ref      uint64
	subs     map[string]subscription
	dialed   bool
	errRun   int
}

type Option func(*Socket)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Socket) { s.log = l }
}

// WithDialer подменяет транспорт (используется в тестах).
func WithDialer(d transport.Dialer) Option {
	return func(s *Socket) { s.dial = d }
}

// New создаёт актор и запускает его цикл. Соединение не открывается —
// см. Connect.
func New(cfg Config, opts ...Option) *Socket {
	s := &Socket{
		cfg:   cfg,
		dial:  transport.Dial,
		log:   zerolog.Nop(),
		calls: make(chan func(), mailboxSize),
		quit:  make(chan struct{}),
		subs:  make(map[string]subscription),
	}
	for _, o := range opts {
		o(s)
	}
	go s.run()
	return s
}

// Connect — New плюс первое подключение. Socket возвращается и при
// ошибке: вызывающий может позже повторить Reconnect.
func Connect(cfg Config, opts ...Option) (*Socket, error) {
	s := New(cfg, opts...)
	return s, s.Connect()
}

// run — единственный исполнитель команд: все мутации состояния проходят
// через этот цикл в порядке поступления.
func (s *Socket) run() {
	for {
		select {
		case fn := <-s.calls:
			fn()
		case <-s.quit:
			s.teardown()
			return
		}
	}
}

// post — асинхронная команда актору (ответа не ждём).
func (s *Socket) post(fn func()) {
	select {
	case s.calls <- fn:
	case <-s.quit:
	}
}

// do — синхронная команда: дождаться выполнения в цикле актора.
func (s *Socket) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.calls <- func() { fn(); close(done) }:
	case <-s.quit:
		return ErrSocketClosed
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrSocketClosed
	}
}

// Connect открывает соединение, предварительно снеся предыдущее
// (транспорт, воркер, таймер). При ошибке состояние остаётся
// «отключено», актор продолжает принимать команды.
func (s *Socket) Connect() error {
	var err error
	if derr := s.do(func() { err = s.connect() }); derr != nil {
		return derr
	}
	return err
}

// Reconnect повторяет Connect с сохранёнными параметрами; до первого
// Connect вернёт ErrNeverConnected.
func (s *Socket) Reconnect() error {
	var err error
	if derr := s.do(func() {
		if !s.dialed {
			err = ErrNeverConnected
			return
		}
		err = s.connect()
	}); derr != nil {
		return derr
	}
	return err
}

// Close — терминальное состояние: teardown и остановка цикла актора.
func (s *Socket) Close() {
	s.stop.Do(func() { close(s.quit) })
}

func (s *Socket) Connected() bool {
	var up bool
	_ = s.do(func() { up = s.conn != nil })
	return up
}

// NextRef выдаёт очередную ссылку: строго возрастает, начинается с 0,
// на реконнекте не сбрасывается.
func (s *Socket) NextRef() uint64 {
	var ref uint64
	_ = s.do(func() { ref = s.ref; s.ref++ })
	return ref
}

// send кодирует конверт и пишет его в текущий транспорт через актора.
func (s *Socket) send(env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	werr := ErrNotConnected
	if derr := s.do(func() {
		if s.conn == nil {
			werr = ErrNotConnected
			return
		}
		werr = s.conn.Send(transport.Frame{Kind: transport.FrameText, Data: data})
	}); derr != nil {
		return derr
	}
	return werr
}
