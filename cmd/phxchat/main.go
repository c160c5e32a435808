package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/EgorLis/phxsocket/internal/phxsocket"
)

func mustRead[T any](path string, out *T) {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		log.Fatal(err)
	}
}

func main() {
	confPath := flag.String("conf", "conf/phxconfig.json", "путь к конфигу подключения")
	room := flag.String("room", "room:lobby", "топик комнаты")
	name := flag.String("name", "anon", "имя в чате")
	flag.Parse()

	var cfg phxsocket.Config
	mustRead(*confPath, &cfg)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	sock, err := phxsocket.Connect(cfg, phxsocket.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer sock.Close()

	ch := sock.Channel(*room, map[string]any{"name": *name})
	rep, err := ch.Join(10 * time.Second)
	if err != nil {
		log.Fatal(err)
	}
	if !rep.OK() {
		log.Fatalf("join rejected: %v", rep.Response)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// входящие события комнаты; потерю связи чиним явным Reconnect+Join
	go func() {
		for msg := range ch.Events() {
			if msg.Err != nil {
				log.Println("connection lost:", msg.Err)
				if rerr := sock.Reconnect(); rerr != nil {
					log.Println("reconnect:", rerr)
					return
				}
				if _, jerr := ch.Join(10 * time.Second); jerr != nil {
					log.Println("rejoin:", jerr)
					return
				}
				continue
			}
			log.Printf("[%s] %s: %v", msg.Topic, msg.Event, msg.Payload)
		}
	}()

	// stdin → new_msg
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			text := sc.Text()
			if text == "" {
				continue
			}
			if perr := ch.Push("new_msg", map[string]any{"name": *name, "text": text}); perr != nil {
				log.Println("push:", perr)
			}
		}
	}()

	log.Println("running… press Ctrl+C to stop")
	<-ctx.Done()

	if _, err := ch.Leave(2 * time.Second); err != nil {
		log.Println("leave:", err)
	}
}
