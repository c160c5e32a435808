package phxsocket

import (
	"github.com/EgorLis/phxsocket/internal/wire"
)

// Message — то, что регистр доставляет владельцу подписки. При потере
// соединения владельцы получают Message с непустым Err.
type Message struct {
	Topic   string
	Event   string
	Payload any
	Err     error
}

type subKind uint8

const (
	subTopic subKind = iota // долговременная: любой конверт топика
	subReply                // одноразовая: phx_reply с нужной ссылкой
)

// subscription — описатель маршрута. Сравнение идёт по ключам (топик,
// ссылка), а не по произвольным предикатам: регистр проверяется в тестах
// без выполнения чужого кода.
type subscription struct {
	key   string
	kind  subKind
	topic string
	ref   string
	owner chan<- Message
}

func (sub subscription) matches(env wire.Envelope) bool {
	if env.Topic != sub.topic {
		return false
	}
	if sub.kind == subReply {
		return env.Event == wire.EventReply && string(env.Ref) == sub.ref
	}
	return true
}

func (sub subscription) message(env wire.Envelope) Message {
	return Message{Topic: env.Topic, Event: env.Event, Payload: env.Payload}
}

// subscribe регистрирует маршрут; коллизия ключа молча замещает старую
// запись (last-writer-wins). Безопасно и без живого соединения — правка
// касается только локальной таблицы.
func (s *Socket) subscribe(sub subscription) {
	s.post(func() { s.subs[sub.key] = sub })
}

func (s *Socket) unsubscribe(key string) {
	s.post(func() { delete(s.subs, key) })
}

// route — фан-аут входящего конверта по всем подходящим подпискам.
// Отправка неблокирующая: медленный подписчик теряет сообщение, а не
// стопорит актора.
func (s *Socket) route(env wire.Envelope) {
	for _, sub := range s.subs {
		if !sub.matches(env) {
			continue
		}
		select {
		case sub.owner <- sub.message(env):
		default:
			s.log.Warn().Str("key", sub.key).Msg("subscriber queue full, dropping")
		}
	}
}

// broadcastLost сообщает каждому владельцу подписки о потере соединения.
func (s *Socket) broadcastLost(err error) {
	for _, sub := range s.subs {
		select {
		case sub.owner <- Message{Topic: sub.topic, Err: err}:
		default:
		}
	}
}

// snapshotKeys — срез ключей таблицы; нужен тестам.
func (s *Socket) snapshotKeys() []string {
	var keys []string
	_ = s.do(func() {
		for k := range s.subs {
			keys = append(keys, k)
		}
	})
	return keys
}
