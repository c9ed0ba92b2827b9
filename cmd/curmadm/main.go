// Command curmadm is a thin administrative client for curmd: it dials the
// daemon's TCP port, frames a request the way internal/session expects,
// and prints the decoded response.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/cu-fleet/curmd/internal/listener"
	"github.com/cu-fleet/curmd/internal/wire"
)

func main() {
	app := &cli.App{
		Name:  "curmadm",
		Usage: "administrative client for curmd",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: fmt.Sprintf("127.0.0.1:%d", listener.DefaultPort), Usage: "daemon address"},
		},
		Commands: []*cli.Command{
			{
				Name:      "call",
				Usage:     "send a single request and print the response",
				ArgsUsage: "<verb> [key=value ...]",
				Action:    callAction,
			},
			{
				Name:   "ping",
				Usage:  "check whether the daemon is running",
				Action: pingAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "curmadm:", err)
		os.Exit(1)
	}
}

func callAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("curmadm: call requires a verb name")
	}
	verb := c.Args().Get(0)
	params, err := parseParams(c.Args().Slice()[1:])
	if err != nil {
		return err
	}
	resp, err := send(c.String("addr"), verb, params)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func pingAction(c *cli.Context) error {
	resp, err := send(c.String("addr"), "isDaemonRunning", nil)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// parseParams turns "key=value" arguments into a request parameter map,
// decoding values that parse as a JSON number or "true"/"false" literal,
// falling back to a plain string otherwise.
func parseParams(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(args))
	for _, a := range args {
		kv := strings.SplitN(a, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("curmadm: malformed parameter %q, expected key=value", a)
		}
		key, raw := kv[0], kv[1]
		switch raw {
		case "true":
			out[key] = true
		case "false":
			out[key] = false
		default:
			if n, err := strconv.ParseFloat(raw, 64); err == nil {
				out[key] = n
			} else {
				out[key] = raw
			}
		}
	}
	return out, nil
}

func send(addr, verb string, params map[string]any) (wire.Response, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return wire.Response{}, fmt.Errorf("curmadm: dial %q: %w", addr, err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	req := wire.Request{Name: verb, RequestID: 1, Params: params}
	if err := wire.WriteRequest(w, req); err != nil {
		return wire.Response{}, fmt.Errorf("curmadm: write request: %w", err)
	}
	if err := w.Flush(); err != nil {
		return wire.Response{}, fmt.Errorf("curmadm: flush request: %w", err)
	}

	resp, err := wire.ReadResponse(r)
	if err != nil {
		return wire.Response{}, fmt.Errorf("curmadm: read response: %w", err)
	}
	return resp, nil
}

func printResponse(resp wire.Response) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if !resp.OK() {
		if err := enc.Encode(resp); err != nil {
			return err
		}
		return fmt.Errorf("curmadm: request %q failed", resp.Name)
	}
	return enc.Encode(resp)
}
