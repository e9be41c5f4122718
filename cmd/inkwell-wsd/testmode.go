package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/inkwell-hq/inkwell/go/protocol"
)

// runTestDriver opens one client session against the public endpoint and
// bridges it to stdin: each input line becomes a frame, and worker replies
// are echoed back, abbreviated. EOF on stdin ends the session and the
// process.
func runTestDriver(ctx context.Context, publicAddr string) error {
	var conn, _, err = websocket.DefaultDialer.DialContext(ctx,
		"ws://"+publicAddr+"/test.odt", nil)
	if err != nil {
		return fmt.Errorf("dialing test session: %w", err)
	}
	defer conn.Close()

	color.Cyan("test session open; type frames, EOF to quit")

	go func() {
		for {
			var _, frame, err = conn.ReadMessage()
			if err != nil {
				return
			}
			color.Green("< %s", protocol.Abbreviate(frame))
		}
	}()

	var done = make(chan error, 1)
	go func() {
		var scanner = bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			var line = scanner.Text()
			if line == "" {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				done <- err
				return
			}
		}
		done <- scanner.Err()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		return nil
	}

	log.Info("test driver finished")
	_ = conn.WriteMessage(websocket.TextMessage, []byte(protocol.TokenDisconnect))
	return err
}
