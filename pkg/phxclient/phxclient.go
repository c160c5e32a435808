// Package phxclient — публичная обёртка над internal/phxsocket:
// те же типы и операции без дублирования реализации.
package phxclient

import (
	"github.com/rs/zerolog"

	"github.com/EgorLis/phxsocket/internal/phxsocket"
)

type (
	Config  = phxsocket.Config
	Socket  = phxsocket.Socket
	Channel = phxsocket.Channel
	Message = phxsocket.Message
	Reply   = phxsocket.Reply
	Option  = phxsocket.Option
)

var (
	ErrNotConnected   = phxsocket.ErrNotConnected
	ErrNeverConnected = phxsocket.ErrNeverConnected
	ErrSocketClosed   = phxsocket.ErrSocketClosed
	ErrConnectionLost = phxsocket.ErrConnectionLost
	ErrTimeout        = phxsocket.ErrTimeout
)

// New создаёт актор соединения без подключения.
func New(cfg Config, opts ...Option) *Socket {
	return phxsocket.New(cfg, opts...)
}

// Connect — New плюс первое подключение.
func Connect(cfg Config, opts ...Option) (*Socket, error) {
	return phxsocket.Connect(cfg, opts...)
}

func WithLogger(l zerolog.Logger) Option {
	return phxsocket.WithLogger(l)
}
