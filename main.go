package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/EgorLis/phxsocket/pkg/phxclient"
)

func main() {
	// Пример чтения из файла conf/phxconfig.json
	data, err := os.ReadFile("conf/phxconfig.json")
	if err != nil {
		log.Fatal(err)
	}

	var cfg phxclient.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Fatal(err)
	}

	sock, err := phxclient.Connect(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer sock.Close()

	ch := sock.Channel("room:lobby", nil)
	rep, err := ch.Join(5 * time.Second)
	if err != nil {
		log.Fatal(err)
	}
	if !rep.OK() {
		log.Fatalf("join rejected: %v", rep.Response)
	}

	fmt.Println("joined room:lobby… press Ctrl+C to stop")
	for msg := range ch.Events() {
		if msg.Err != nil {
			log.Println("connection lost:", msg.Err)
			return
		}
		fmt.Printf("[%s] %s: %v\n", msg.Topic, msg.Event, msg.Payload)
	}
}
