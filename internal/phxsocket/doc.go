// Package phxsocket реализует клиентский актор topic-based pub/sub
// протокола (Phoenix Channels, vsn 1.0.0) поверх постоянного
// WebSocket-соединения. Одно соединение мультиплексирует несколько
// логических каналов; пары запрос/ответ коррелируются монотонно
// растущими ссылками; соединение поддерживается heartbeat'ами.
//
// Основные операции:
//
//   - Connect, Reconnect, Close — жизненный цикл соединения;
//   - Channel, Join, Leave, Push, PushAndReceive — работа с каналами;
//   - Events — широковещательные события присоединённого топика.
//
// Устойчивость и безопасность:
//   - Всё изменяемое состояние (транспорт, счётчик ссылок, таблица
//     подписок, таймер heartbeat) принадлежит одной горутине-актору;
//     команды идут через упорядоченный mailbox, мьютексов нет.
//   - Воркер чтения живёт ровно одну эпоху соединения и заменяется на
//     каждом реконнекте; старый гасится принудительно.
//   - При close от пира или серии ошибок чтения все владельцы подписок
//     получают уведомление о потере связи. Автопереподключения нет:
//     Reconnect — явное решение вызывающего (каналы после него нужно
//     присоединять заново).
//
// Пример:
//
//	cfg := phxsocket.Config{Host: "localhost", Port: 4000, Path: "/socket/websocket"}
//	sock, err := phxsocket.Connect(cfg)
//	if err != nil { log.Fatal(err) }
//	defer sock.Close()
//
//	ch := sock.Channel("room:public", map[string]any{"user": "ann"})
//	rep, err := ch.Join(5 * time.Second)
//	if err != nil || !rep.OK() { log.Fatal("join failed") }
//
//	_ = ch.Push("new_msg", map[string]any{"text": "hi"})
//
//	for msg := range ch.Events() {
//		if msg.Err != nil { break } // связь потеряна
//		fmt.Println(msg.Event, msg.Payload)
//	}
package phxsocket
