// Package main provides zhtsh, an interactive operator shell for a
// running zhtd node's local control socket.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"zhtd/internal/fabric"
	"zhtd/pkg/logging"
)

func main() {
	identity := flag.String("identity", "", "Target node identity (selects its control socket)")
	socketPath := flag.String("socket", "", "Explicit control socket path, overrides -identity")
	flag.Parse()

	log := logging.Default().Component("zhtsh")

	path := *socketPath
	if path == "" {
		if *identity == "" {
			log.Fatal("either -identity or -socket is required")
		}
		path = fabric.ControlSocketPath(*identity)
	}

	client := fabric.NewControlClient(path)
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("zhtsh connected to", path)
	fmt.Print("zht> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("zht> ")
			continue
		}

		requestID := uuid.New().String()[:8]
		if strings.EqualFold(line, "EOF") || strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			sendCommand(client, requestID, log, "EOF")
			break
		}

		fields := strings.Fields(line)
		// The control protocol's verbs are upper-case; accept any case here.
		fields[0] = strings.ToUpper(fields[0])
		sendCommand(client, requestID, log, fields...)
		fmt.Print("zht> ")
	}
}

// sendCommand issues one control request and prints the reply frames.
// requestID only correlates log lines for a single interactive session;
// it never crosses the wire.
func sendCommand(client *fabric.ControlClient, requestID string, log *logging.Logger, fields ...string) {
	if len(fields) == 0 {
		return
	}

	frames := make([][]byte, len(fields))
	for i, f := range fields {
		frames[i] = []byte(f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Debug("sending control command", "request_id", requestID, "verb", fields[0])
	reply, err := client.Request(ctx, frames)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}

	parts := make([]string, len(reply))
	for i, f := range reply {
		parts[i] = string(f)
	}
	fmt.Println(strings.Join(parts, " "))
}
