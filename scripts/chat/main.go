package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/vovakirdan/relaychat-server/internal/proto"
)

// chat is a line-oriented probe client for manual testing:
//
//	go run ./scripts/chat -addr localhost:5000 -email alice@example.com -password secret123
//
// Commands: "@<userID> text" sends a direct message, "#<groupID> text" a
// group message, "/ack <msgID>" acknowledges, "/quit" logs out.
func main() {
	if err := run(); err != nil {
		log.Printf("chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:5000", "chat server address")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	creds, err := json.Marshal(proto.Credentials{Email: *email, Password: *password})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if _, err := conn.Write(append(creds, '\n')); err != nil {
		return fmt.Errorf("send credentials: %w", err)
	}

	server := bufio.NewScanner(conn)
	if !server.Scan() {
		return fmt.Errorf("handshake: %w", server.Err())
	}
	if reply := server.Text(); reply != proto.AuthSuccess {
		return fmt.Errorf("authentication rejected: %s", reply)
	}
	log.Printf("authenticated as %s", *email)

	go func() {
		for server.Scan() {
			var env proto.Envelope
			if err := json.Unmarshal(server.Bytes(), &env); err != nil {
				log.Printf("bad envelope: %v", err)
				continue
			}
			switch env.Type {
			case proto.TypeChat:
				fmt.Printf("[%d] %s (id=%s)\n", env.SenderID, env.Content, env.ID)
			case proto.TypeConfirmation:
				fmt.Printf("confirmed %s for %d: %s\n", env.ID, env.ReceiverID, env.Status)
			case proto.TypeStatusUpdate:
				fmt.Printf("user %d is now %s\n", env.SenderID, env.Status)
			case proto.TypeLogoutConfirm:
				fmt.Println("logged out")
			case proto.TypeError:
				fmt.Printf("server error: %s\n", env.Content)
			default:
				fmt.Printf("<- %s\n", server.Text())
			}
		}
		stop()
	}()

	send := func(env *proto.Envelope) {
		data, err := json.Marshal(env)
		if err != nil {
			log.Printf("marshal: %v", err)
			return
		}
		if _, err := conn.Write(append(data, '\n')); err != nil {
			log.Printf("send: %v", err)
			stop()
		}
	}

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				send(&proto.Envelope{Type: proto.TypePing})
			}
		}
	}()

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			send(&proto.Envelope{Type: proto.TypeLogout})
			<-ctx.Done()
			return nil
		case strings.HasPrefix(line, "/ack "):
			send(&proto.Envelope{Type: proto.TypeAcknowledge, Content: strings.TrimPrefix(line, "/ack ")})
		case strings.HasPrefix(line, "@"), strings.HasPrefix(line, "#"):
			target, text, ok := strings.Cut(line[1:], " ")
			id, convErr := strconv.ParseInt(target, 10, 64)
			if !ok || convErr != nil {
				fmt.Println("usage: @<userID> text | #<groupID> text")
				continue
			}
			env := &proto.Envelope{Type: proto.TypeChat, Content: text}
			if line[0] == '@' {
				env.ReceiverID = id
			} else {
				env.GroupID = id
			}
			send(env)
		default:
			fmt.Println("usage: @<userID> text | #<groupID> text | /ack <msgID> | /quit")
		}
	}
	return nil
}
