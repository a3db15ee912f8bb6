// ws-smoke is a CI-friendly end-to-end check of the realtime path:
// login, websocket connect, subscribe, broadcast, receive.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"pulse/internal/realtime/channel"
)

func main() {
	base := flag.String("base", "http://127.0.0.1:8080", "server base URL")
	email := flag.String("email", "", "login email")
	password := flag.String("password", "", "login password")
	channelName := flag.String("channel", "smoke", "channel to exercise")
	timeout := flag.Duration("timeout", 15*time.Second, "overall deadline")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "ws-smoke: -email and -password are required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *base, *email, *password, *channelName); err != nil {
		fmt.Fprintln(os.Stderr, "ws-smoke: FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("ws-smoke: OK")
}

func run(ctx context.Context, base, email, password, channelName string) error {
	token, err := login(ctx, base, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	cl := channel.NewClient(nil, channel.Config{URL: wsBaseURL(base) + "/ws"})
	defer cl.Close()

	got := make(chan json.RawMessage, 1)
	cl.OnMessage(channelName, func(data json.RawMessage) {
		select {
		case got <- data:
		default:
		}
	})

	if err := cl.Connect(ctx, token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := waitOpen(ctx, cl); err != nil {
		return err
	}
	if err := cl.Subscribe(channelName); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// The subscribe frame races the broadcast; give the server a beat.
	time.Sleep(200 * time.Millisecond)

	if err := broadcast(ctx, base, token, channelName); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	select {
	case data := <-got:
		fmt.Printf("ws-smoke: received %s\n", data)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no message on %q before deadline", channelName)
	}
}

func login(ctx context.Context, base, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Session.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}
	return out.Session.AccessToken, nil
}

func broadcast(ctx context.Context, base, token, channelName string) error {
	body, _ := json.Marshal(map[string]any{
		"channel": channelName,
		"data":    map[string]string{"ping": "smoke"},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/broadcast", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func waitOpen(ctx context.Context, cl *channel.Client) error {
	for {
		switch cl.State() {
		case channel.StateOpen:
			return nil
		case channel.StateGaveUp, channel.StateClosed:
			return fmt.Errorf("connection %s", cl.State())
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect timeout in state %s", cl.State())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
