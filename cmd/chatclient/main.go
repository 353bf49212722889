package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abroadhq/chat-server/internal/server"
	"github.com/abroadhq/chat-server/internal/types"
	"github.com/abroadhq/chat-server/internal/view"
)

var (
	serverUrl string
	token     string
	roomId    string
)

// apiClient is the REST side of the client: sends, fetches, and the polling
// fallback all go through it.
type apiClient struct {
	base  string
	token string
	httpc *http.Client
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "token", Value: c.token})

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) GetMessage(messageId string) (types.Message, error) {
	var msg types.Message
	err := c.do(http.MethodGet, "/api/messages/"+messageId, nil, &msg)
	return msg, err
}

func (c *apiClient) ListMessages(roomId string) ([]types.Message, error) {
	var msgs []types.Message
	err := c.do(http.MethodGet, "/api/messages?room_id="+url.QueryEscape(roomId), nil, &msgs)
	return msgs, err
}

type sendMessageResponse struct {
	Success bool          `json:"success"`
	Message types.Message `json:"message"`
}

func (c *apiClient) Send(roomId, content string) (types.Message, error) {
	var resp sendMessageResponse
	err := c.do(http.MethodPost, "/api/messages", map[string]string{
		"room_id": roomId,
		"content": content,
	}, &resp)
	return resp.Message, err
}

type clientConfig struct {
	PollIntervalMs int64 `json:"poll_interval_ms"`
	DedupWindowMs  int64 `json:"dedup_window_ms"`
}

func (c *apiClient) ClientConfig() (clientConfig, error) {
	var cfg clientConfig
	err := c.do(http.MethodGet, "/api/client-config", nil, &cfg)
	return cfg, err
}

func render(rv *view.RoomView) {
	fmt.Print("\033[2J\033[H")
	for _, msg := range rv.Messages() {
		name := msg.Sender.Username
		if name == "" {
			name = "(sending)"
		}
		line := msg.Content
		if msg.IsEdited {
			line += " (edited)"
		}
		fmt.Printf("%s %s: %s\n", msg.CreatedAt.Local().Format("15:04:05"), name, line)
	}
	fmt.Print("> ")
}

func main() {
	flag.StringVar(&serverUrl, "server", "http://localhost:8000", "chat server base URL")
	flag.StringVar(&token, "token", "", "session token")
	flag.StringVar(&roomId, "room", "", "room to join")
	flag.Parse()

	logger := log.New(os.Stderr, "[chat-client] ", log.LstdFlags)

	if token == "" || roomId == "" {
		logger.Fatal("-token and -room are required")
	}

	api := &apiClient{base: serverUrl, token: token, httpc: &http.Client{Timeout: 10 * time.Second}}

	cfg, err := api.ClientConfig()
	if err != nil {
		logger.Fatal("fetch client config:", err)
	}

	ledger := view.NewLedger(time.Duration(cfg.DedupWindowMs) * time.Millisecond)
	rv := view.NewRoomView(roomId, logger, ledger, api)

	poller := view.NewPoller(logger, api, rv, time.Duration(cfg.PollIntervalMs)*time.Millisecond)
	go poller.Run()
	defer poller.Stop()

	wsUrl := strings.Replace(serverUrl, "http", "ws", 1) + "/ws"
	header := http.Header{}
	header.Set("Cookie", "token="+token)

	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, header)
	if err != nil {
		logger.Fatal("dial:", err)
	}
	defer conn.Close()

	join := server.ClientMessage{Join: &server.Join{RoomId: roomId}}
	join.Id = 1
	if err := conn.WriteJSON(join); err != nil {
		logger.Fatal("join:", err)
	}

	// socket reader: broadcast and change-feed events converge on the view
	go func() {
		for {
			var msg server.ServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				logger.Println("read:", err)
				return
			}

			switch {
			case msg.Message != nil:
				switch msg.Message.Op {
				case server.MessageOpInsert, server.MessageOpUpdate:
					if msg.Message.Message != nil {
						rv.ApplyBroadcast(*msg.Message.Message)
					}
				case server.MessageOpDelete:
					rv.ApplyBroadcastDelete(msg.Message.MessageId)
				}
			case msg.Feed != nil:
				rv.ApplyFeed(*msg.Feed)
			case msg.Response != nil && msg.Response.Error != "":
				logger.Println("server:", msg.Response.Error)
				continue
			}
			render(rv)
		}
	}()

	// periodic repaint picks up poller merges
	go func() {
		for range time.Tick(time.Duration(cfg.PollIntervalMs) * time.Millisecond) {
			render(rv)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		content := strings.TrimSpace(scanner.Text())
		if content == "" {
			continue
		}

		localKey := uuid.NewString()
		rv.AddPending(localKey, types.Message{
			RoomId:    roomId,
			Content:   content,
			Type:      types.MessageTypeText,
			CreatedAt: time.Now(),
		})
		render(rv)

		go func(key, content string) {
			msg, err := api.Send(roomId, content)
			if err != nil {
				logger.Println("send:", err)
				rv.FailPending(key)
			} else {
				rv.ConfirmPending(key, msg)
			}
			render(rv)
		}(localKey, content)
	}
}
