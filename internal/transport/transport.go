// Package transport — граница транспорта: дискретные кадры поверх
// WebSocket. Приложение выше видит только текст/ping/pong/close и не
// знает про фрейминг и control-механику gorilla.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type FrameKind uint8

const (
	FrameText FrameKind = iota
	FramePing
	FramePong
	FrameClose
)

// Frame — один кадр транспорта. Code/Reason заполняются только для close.
type Frame struct {
	Kind   FrameKind
	Data   []byte
	Code   int
	Reason string
}

// Conn — контракт границы: Receive блокируется, Abort рвёт соединение
// немедленно (разблокирует читателя).
type Conn interface {
	Send(Frame) error
	Receive() (Frame, error)
	Close() error
	Abort()
}

// Dialer открывает соединение по адресу; подменяется в тестах.
type Dialer func(rawURL string) (Conn, error)

const (
	writeWait  = 5 * time.Second
	closeWait  = 500 * time.Millisecond
	maxMsgSize = 64 << 20
)

type result struct {
	fr  Frame
	err error
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex // сериализует запись в websocket
	recv chan result
	dead chan struct{}
	once sync.Once
}

// Dial открывает WebSocket и запускает насос чтения. Ping/pong отдаются
// наверх как кадры: ответный pong — забота читающего цикла, не транспорта.
func Dial(rawURL string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	c.SetReadLimit(maxMsgSize)

	t := &wsConn{
		conn: c,
		recv: make(chan result),
		dead: make(chan struct{}),
	}
	c.SetPingHandler(func(data string) error {
		t.deliver(result{fr: Frame{Kind: FramePing, Data: []byte(data)}})
		return nil
	})
	c.SetPongHandler(func(data string) error {
		t.deliver(result{fr: Frame{Kind: FramePong, Data: []byte(data)}})
		return nil
	})

	go t.readPump()
	return t, nil
}

// deliver вызывается только из горутины насоса (control-handler'ы
// срабатывают внутри ReadMessage).
func (t *wsConn) deliver(r result) {
	select {
	case t.recv <- r:
	case <-t.dead:
	}
}

func (t *wsConn) readPump() {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			r := result{err: err}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				r = result{fr: Frame{Kind: FrameClose, Code: ce.Code, Reason: ce.Text}}
			}
			// после терминальной ошибки канал отдаёт её на каждый Receive:
			// темп задаёт читающая сторона
			for {
				select {
				case t.recv <- r:
					r = result{err: err}
				case <-t.dead:
					return
				}
			}
		}
		if mt != websocket.TextMessage {
			continue // бинарные кадры протоколом не используются
		}
		t.deliver(result{fr: Frame{Kind: FrameText, Data: data}})
	}
}

func (t *wsConn) Receive() (Frame, error) {
	select {
	case r := <-t.recv:
		return r.fr, r.err
	case <-t.dead:
		return Frame{}, net.ErrClosed
	}
}

func (t *wsConn) Send(fr Frame) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	deadline := time.Now().Add(writeWait)
	switch fr.Kind {
	case FrameText:
		_ = t.conn.SetWriteDeadline(deadline)
		return t.conn.WriteMessage(websocket.TextMessage, fr.Data)
	case FramePing:
		return t.conn.WriteControl(websocket.PingMessage, fr.Data, deadline)
	case FramePong:
		return t.conn.WriteControl(websocket.PongMessage, fr.Data, deadline)
	case FrameClose:
		code := fr.Code
		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		return t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, fr.Reason), deadline)
	}
	return fmt.Errorf("unknown frame kind %d", fr.Kind)
}

// Close — вежливое закрытие: close-кадр с коротким дедлайном, затем
// закрытие сокета.
func (t *wsConn) Close() error {
	t.once.Do(func() { close(t.dead) })
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(closeWait))
	return t.conn.Close()
}

// Abort рвёт соединение без церемоний; используется актором при teardown.
func (t *wsConn) Abort() {
	t.once.Do(func() { close(t.dead) })
	_ = t.conn.Close()
}
