package phxsocket

import (
	"errors"
	"time"

	"github.com/EgorLis/phxsocket/internal/wire"
)

// Размер очереди событий канала.
const channelQueue = 32

// Reply — разобранный phx_reply: status "ok"/"error" плюс response.
type Reply struct {
	Status   string
	Response any
}

func (r *Reply) OK() bool { return r != nil && r.Status == "ok" }

// Channel — неизменяемое значение-«способность»: соединение, топик,
// параметры присоединения. Самостоятельного жизненного цикла нет.
type Channel struct {
	sock   *Socket
	topic  string
	params map[string]any
	events chan Message
}

// Channel создаёт описатель канала на данном топике.
func (s *Socket) Channel(topic string, params map[string]any) *Channel {
	return &Channel{
		sock:   s,
		topic:  topic,
		params: params,
		events: make(chan Message, channelQueue),
	}
}

func (ch *Channel) Topic() string { return ch.topic }

// Events — сообщения топика после Join плюс уведомления о потере
// соединения (Message.Err != nil).
func (ch *Channel) Events() <-chan Message { return ch.events }

// Join регистрирует долговременную подписку на топик и выполняет
// запрос/ответ события phx_join с параметрами канала. По таймауту
// подписка снимается: несостоявшийся join не должен оставлять живой
// маршрут.
func (ch *Channel) Join(timeout time.Duration) (*Reply, error) {
	ch.sock.subscribe(subscription{
		key:   ch.topic,
		kind:  subTopic,
		topic: ch.topic,
		owner: ch.events,
	})
	rep, err := ch.PushAndReceive(wire.EventJoin, ch.params, timeout)
	if errors.Is(err, ErrTimeout) {
		ch.sock.unsubscribe(ch.topic)
	}
	return rep, err
}

// Leave сначала снимает подписку топика, затем шлёт phx_leave.
func (ch *Channel) Leave(timeout time.Duration) (*Reply, error) {
	ch.sock.unsubscribe(ch.topic)
	return ch.PushAndReceive(wire.EventLeave, nil, timeout)
}

// Push — fire-and-forget: свежая ссылка, конверт в транспорт, ответа
// никто не ждёт.
func (ch *Channel) Push(event string, payload any) error {
	return ch.sock.send(wire.Envelope{
		Topic:   ch.topic,
		Event:   event,
		Payload: payload,
		Ref:     wire.Ref(ch.sock.NextRef()),
	})
}

// PushAndReceive — запрос/ответ: одноразовая подписка по свежей ссылке,
// отправка конверта, ограниченное ожидание ровно одного ответа.
// Подписка снимается на любом исходе — ok, error, таймаут, ошибка
// отправки. Сверх таймаута вызова действует жёсткий потолок
// maxReceiveWait на случай коррелятора, который так и не проснулся.
func (ch *Channel) PushAndReceive(event string, payload any, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	refNum := wire.Ref(ch.sock.NextRef())
	key := refNum.String()

	inbox := make(chan Message, 1)
	ch.sock.subscribe(subscription{
		key:   key,
		kind:  subReply,
		topic: ch.topic,
		ref:   key,
		owner: inbox,
	})
	defer ch.sock.unsubscribe(key)

	if err := ch.sock.send(wire.Envelope{
		Topic:   ch.topic,
		Event:   event,
		Payload: payload,
		Ref:     refNum,
	}); err != nil {
		return nil, err
	}

	wait := time.NewTimer(timeout)
	defer wait.Stop()
	ceiling := time.NewTimer(maxReceiveWait)
	defer ceiling.Stop()

	select {
	case msg := <-inbox:
		if msg.Err != nil {
			return nil, msg.Err
		}
		return replyFrom(msg.Payload), nil
	case <-wait.C:
		return nil, ErrTimeout
	case <-ceiling.C:
		return nil, ErrTimeout
	}
}

// replyFrom разбирает payload вида {status, response}. Непривычная
// форма остаётся как есть: Status пустой, Response — сырой payload.
func replyFrom(payload any) *Reply {
	rep := &Reply{Response: payload}
	if m, ok := payload.(map[string]any); ok {
		if st, ok := m["status"].(string); ok {
			rep.Status = st
			rep.Response = m["response"]
		}
	}
	return rep
}
