package phxsocket

import (
	"fmt"
	"time"

	"github.com/EgorLis/phxsocket/internal/transport"
	"github.com/EgorLis/phxsocket/internal/wire"
)

// Пауза после ошибки чтения/декодирования, чтобы не крутить горячий цикл.
const readErrorBackoff = 100 * time.Millisecond

// readLoop — воркер одной эпохи соединения: блокируется на транспорте и
// пересылает события актору. Политика реконнекта живёт у вызывающего —
// воркер сам никогда не переподключается. При teardown его гасят
// принудительно (stop + Abort транспорта), на «чистый» выход никто не
// рассчитывает.
func (s *Socket) readLoop(conn transport.Conn, epoch int, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		fr, err := conn.Receive()
		if err != nil {
			s.forward(stop, func() { s.handleReadError(epoch, err) })
			if !s.pause(stop) {
				return
			}
			continue
		}

		switch fr.Kind {
		case transport.FrameText:
			env, derr := wire.Decode(fr.Data)
			if derr != nil {
				// битый кадр: лог и пропуск, воркер не падает
				s.forward(stop, func() { s.handleReadError(epoch, derr) })
				if !s.pause(stop) {
					return
				}
				continue
			}
			s.forward(stop, func() { s.handleInbound(epoch, env) })
		case transport.FramePing:
			// вежливость: отвечаем pong тем же payload
			_ = conn.Send(transport.Frame{Kind: transport.FramePong, Data: fr.Data})
		case transport.FramePong:
			// игнорируем
		case transport.FrameClose:
			s.forward(stop, func() { s.handleClosed(epoch, fr.Code, fr.Reason) })
			return
		}
	}
}

// forward кладёт событие в ящик актора, не зависая при остановке.
func (s *Socket) forward(stop <-chan struct{}, fn func()) {
	select {
	case s.calls <- fn:
	case <-stop:
	case <-s.quit:
	}
}

func (s *Socket) pause(stop <-chan struct{}) bool {
	select {
	case <-time.After(readErrorBackoff):
		return true
	case <-stop:
		return false
	}
}

// Обработчики ниже выполняются в цикле run; epoch отсекает события
// воркеров, переживших реконнект.

func (s *Socket) handleInbound(epoch int, env wire.Envelope) {
	if epoch != s.epoch {
		return
	}
	s.errRun = 0
	s.route(env)
}

func (s *Socket) handleReadError(epoch int, err error) {
	if epoch != s.epoch {
		return
	}
	s.errRun++
	s.log.Warn().Err(err).Int("streak", s.errRun).Msg("read error")
	if s.errRun >= errStreakLimit {
		s.connectionLost(fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}
}

func (s *Socket) handleClosed(epoch, code int, reason string) {
	if epoch != s.epoch {
		return
	}
	s.connectionLost(fmt.Errorf("%w: peer closed (%d %s)", ErrConnectionLost, code, reason))
}
