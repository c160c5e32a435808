package phxsocket

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/EgorLis/phxsocket/internal/transport"
	"github.com/EgorLis/phxsocket/internal/wire"
)

// ========================= low-level =========================

// endpoint собирает ws/wss адрес по текущей конфигурации:
// путь + vsn и пользовательские параметры в query.
func (c Config) endpoint() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	host := c.Host
	if c.Port != 0 {
		host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	q := url.Values{}
	q.Set("vsn", wire.Version)
	for k, v := range c.Params {
		q.Set(k, v)
	}
	u := url.URL{Scheme: scheme, Host: host, Path: path, RawQuery: q.Encode()}
	return u.String()
}

// connect — полный цикл: снести старый транспорт/воркер/таймер, открыть
// новый, поднять воркер и взвести первый heartbeat. Только из цикла run.
func (s *Socket) connect() error {
	s.teardown()
	s.dialed = true
	addr := s.cfg.endpoint()
	conn, err := s.dial(addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	s.conn = conn
	s.epoch++
	s.errRun = 0
	s.stopRead = make(chan struct{})
	go s.readLoop(conn, s.epoch, s.stopRead)
	s.scheduleHeartbeat(s.epoch)
	s.log.Info().Str("addr", addr).Int("epoch", s.epoch).Msg("connected")
	return nil
}

// teardown гасит воркер (не дожидаясь его выхода), таймер и транспорт.
// Только из цикла run. Не снести старый воркер — утечка на каждом
// реконнекте.
func (s *Socket) teardown() {
	if s.stopRead != nil {
		close(s.stopRead)
		s.stopRead = nil
	}
	if s.hbTimer != nil {
		s.hbTimer.Stop()
		s.hbTimer = nil
	}
	if s.conn != nil {
		s.conn.Abort()
		s.conn = nil
	}
}

// scheduleHeartbeat взводит одноразовый таймер; перевзводится после
// каждого срабатывания — дрейф под нагрузкой допустим.
func (s *Socket) scheduleHeartbeat(epoch int) {
	s.hbTimer = time.AfterFunc(s.cfg.heartbeat(), func() {
		s.post(func() { s.heartbeatTick(epoch) })
	})
}

// heartbeatTick шлёт служебный конверт; корреляции ответа нет.
// Неудача не эскалируется: мёртвое соединение проявится в воркере.
func (s *Socket) heartbeatTick(epoch int) {
	if epoch != s.epoch || s.conn == nil {
		return
	}
	data, _ := wire.Encode(wire.Envelope{
		Topic:   wire.TopicPhoenix,
		Event:   wire.EventHeartbeat,
		Payload: map[string]any{},
	})
	if err := s.conn.Send(transport.Frame{Kind: transport.FrameText, Data: data}); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat send failed")
	}
	s.scheduleHeartbeat(epoch)
}

// connectionLost — close от пира или серия ошибок чтения: оповестить
// владельцев подписок и остаться разобранным до явного Reconnect.
func (s *Socket) connectionLost(err error) {
	s.log.Warn().Err(err).Int("epoch", s.epoch).Msg("connection lost")
	s.broadcastLost(err)
	s.teardown()
}
