// Package wire описывает конверт протокола и его JSON-кодек.
// Формат на проводе — ровно четыре ключа: topic, event, payload, ref.
package wire

import (
	"encoding/json"
	"strconv"
)

// Зарезервированные события протокола.
const (
	EventJoin      = "phx_join"
	EventReply     = "phx_reply"
	EventLeave     = "phx_leave"
	EventHeartbeat = "heartbeat"
)

// TopicPhoenix — служебный топик (heartbeat).
const TopicPhoenix = "phoenix"

// Version — версия протокола; уходит в query-строку при подключении.
const Version = "1.0.0"

// Envelope — четырёхпольное сообщение протокола. Ref пуст для
// broadcast-событий; в парах запрос/ответ сервер может вернуть его
// числом или строкой — json.Number принимает оба варианта.
type Envelope struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload any         `json:"payload"`
	Ref     json.Number `json:"ref,omitempty"`
}

// Ref — десятичное представление счётчика ссылок.
func Ref(n uint64) json.Number {
	return json.Number(strconv.FormatUint(n, 10))
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
