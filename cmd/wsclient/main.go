// Package main is a small websocket client that follows the live detection session.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	ws "github.com/satriahrh/emotiscan/internal/websocket"
)

type tokenResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	OperatorID string    `json:"operator_id"`
}

func main() {
	app := &cli.App{
		Name:  "wsclient",
		Usage: "follow the detection session over websocket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", Usage: "server base URL"},
			&cli.StringFlag{Name: "api-key", EnvVars: []string{"AUTH_API_KEY"}, Usage: "exchange this key for a token first"},
			&cli.StringFlag{Name: "operator", Value: "wsclient", Usage: "operator ID for the token"},
			&cli.BoolFlag{Name: "toggle", Usage: "toggle detection after connecting"},
			&cli.StringFlag{Name: "model", Usage: "select this model after connecting"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	serverURL, err := url.Parse(c.String("server"))
	if err != nil {
		return errors.Wrap(err, "parse server URL")
	}

	var token string
	if apiKey := c.String("api-key"); apiKey != "" {
		fmt.Println("Step 1: Getting authentication token...")
		token, err = fetchToken(serverURL.String(), apiKey, c.String("operator"))
		if err != nil {
			return err
		}
		fmt.Println("✓ Authentication successful")
	}

	fmt.Println("Step 2: Connecting to WebSocket...")
	wsURL := url.URL{Scheme: "ws", Host: serverURL.Host, Path: "/ws"}
	if serverURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "websocket connection failed with status %d", resp.StatusCode)
		}
		return errors.Wrap(err, "websocket connection failed")
	}
	defer conn.Close()
	fmt.Println("✓ WebSocket connection successful!")

	if model := c.String("model"); model != "" {
		if err := conn.WriteJSON(map[string]string{"type": string(ws.MessageTypeSelectModel), "model": model}); err != nil {
			return errors.Wrap(err, "send select_model")
		}
	}
	if c.Bool("toggle") {
		if err := conn.WriteJSON(map[string]string{"type": string(ws.MessageTypeToggle)}); err != nil {
			return errors.Wrap(err, "send toggle")
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	messages := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			messages <- message
		}
	}()

	for {
		select {
		case message := <-messages:
			printMessage(message)
		case err := <-readErr:
			return errors.Wrap(err, "read")
		case <-interrupt:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

func fetchToken(serverURL, apiKey, operatorID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"api_key": apiKey, "operator_id": operatorID})
	resp, err := http.Post(serverURL+"/api/v1/auth/token", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", errors.Wrap(err, "request token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", errors.Wrap(err, "decode token response")
	}
	return tokenResp.Token, nil
}

func printMessage(message []byte) {
	var base ws.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		fmt.Printf("? %s\n", message)
		return
	}

	switch base.Type {
	case ws.MessageTypeSessionSnapshot:
		var snap ws.SessionSnapshotMessage
		if err := json.Unmarshal(message, &snap); err != nil {
			fmt.Printf("? %s\n", message)
			return
		}
		s := snap.Session
		line := fmt.Sprintf("[%s] active=%t health=%s model=%s", base.Timestamp, s.Active, s.Health, s.SelectedModel)
		if snap.TopEmotion != "" {
			line += fmt.Sprintf(" %s %s", snap.Emoji, snap.TopEmotion)
		}
		if s.LastError != nil {
			line += " error=" + s.LastError.Error()
		}
		fmt.Println(line)
	default:
		fmt.Printf("%s: %s\n", base.Type, message)
	}
}
