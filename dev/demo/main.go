package main

// A terminal chat client for poking at a running server:
//
//	go run ./dev/demo -addr 127.0.0.1:3000 -secret <entry password> -name alice
//
// Lines from stdin are posted as messages; `/delete <id>` requests removal
// of an own message and `/clear <admin password>` requests the full purge.

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"

	"github.com/ttakeda/minichat/auth"
	"github.com/ttakeda/minichat/ws"
)

var (
	flagAddr   = flag.String("addr", "127.0.0.1:3000", "server address, ip:port")
	flagSecret = flag.String("secret", "", "entry password")
	flagName   = flag.String("name", "demo", "display name")
	flagUserId = flag.String("user-id", "", "user id, generated when empty")
	flagColor  = flag.String("color", "#00b900", "display color")
)

func main() {
	flag.Parse()

	if *flagSecret == "" {
		fmt.Fprintln(os.Stderr, "--secret is required")
		os.Exit(1)
	}

	userId := *flagUserId
	if userId == "" {
		userId = uuid.New()
	}

	u := url.URL{Scheme: "ws", Host: *flagAddr, Path: "/ws"}
	header := http.Header{}
	header.Set(auth.AuthHeader, *flagSecret)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", u.String(), err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.WriteJSON(&ws.ClientMsg{Join: &auth.UserInfo{
		UserId: userId,
		Name:   *flagName,
		Color:  *flagColor,
	}}); err != nil {
		fmt.Fprintf(os.Stderr, "join: %v\n", err)
		os.Exit(1)
	}

	go recvLoop(conn)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg *ws.ClientMsg
		switch {
		case strings.HasPrefix(line, "/delete "):
			msg = &ws.ClientMsg{Delete: &ws.DeleteReq{Id: strings.TrimSpace(line[len("/delete "):])}}
		case strings.HasPrefix(line, "/clear "):
			msg = &ws.ClientMsg{AdminClear: &ws.AdminClearReq{Secret: strings.TrimSpace(line[len("/clear "):])}}
		default:
			msg = &ws.ClientMsg{Post: &ws.PostReq{
				Id:    uuid.New(),
				Text:  line,
				Name:  *flagName,
				Color: *flagColor,
			}}
		}

		if err := conn.WriteJSON(msg); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}
	}
}

func recvLoop(conn *websocket.Conn) {
	for {
		var msg ws.ServerMsg
		if err := conn.ReadJSON(&msg); err != nil {
			fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
			os.Exit(0)
		}

		switch {
		case msg.History != nil:
			fmt.Printf("--- history: %d messages ---\n", len(msg.History.Messages))
			for _, m := range msg.History.Messages {
				fmt.Printf("[%s] %s: %s\n", m.Id, m.Name, m.Text)
			}
		case msg.Message != nil:
			fmt.Printf("[%s] %s: %s\n", msg.Message.Id, msg.Message.Name, msg.Message.Text)
		case msg.Deleted != nil:
			fmt.Printf("--- message %s deleted ---\n", msg.Deleted.Id)
		case msg.Cleared != nil:
			fmt.Println("--- all messages cleared ---")
		case msg.Presence != nil:
			names := make([]string, 0, len(msg.Presence.Users))
			for _, u := range msg.Presence.Users {
				names = append(names, u.Name)
			}
			fmt.Printf("--- online: %s ---\n", strings.Join(names, ", "))
		case msg.Error != nil:
			fmt.Printf("--- error %d: %s ---\n", msg.Error.Code, msg.Error.Reason)
		}
	}
}
