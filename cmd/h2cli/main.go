// Command h2cli drives the h2c core against a real TCP+TLS connection, for
// manual smoke-testing outside the unit test suite.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/semaphore"

	"github.com/kaelstrand/h2c/pkg/h2c"
)

var cli struct {
	Addr        string   `arg:"" help:"host:port to connect to."`
	Paths       []string `arg:"" optional:"" help:"paths to GET, defaults to /."`
	Insecure    bool     `help:"use plaintext h2c instead of TLS+ALPN." default:"false"`
	Concurrency int64    `help:"max number of requests open at once." default:"4"`
}

// The core is re-entrant-free: every call below runs from this one
// goroutine, with a single shared Recv loop driving all in-flight
// requests. Concurrency here means "how many streams are open on the
// wire at once", gated by a semaphore, not "how many goroutines call into
// the Connection" — only one ever does.
func main() {
	kong.Parse(&cli)

	host, portStr, _ := strings.Cut(cli.Addr, ":")
	scheme := "https"
	port := 443
	if cli.Insecure {
		scheme, port = "http", 80
	}
	if portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	transport, err := dialH2(cli.Addr, cli.Insecure)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}

	opts := h2c.DefaultOptions()
	opts.Mode = h2c.ModePassive
	opts.Logger = log.New(os.Stderr, "h2c: ", 0)

	conn, _, err := h2c.Connect(transport, scheme, host, port, opts)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	paths := cli.Paths
	if len(paths) == 0 {
		paths = []string{"/"}
	}

	sem := semaphore.NewWeighted(cli.Concurrency)
	ctx := context.Background()
	pathByRef := make(map[h2c.RequestRef]string, len(paths))
	pending := len(paths)

	for _, p := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Fatalf("semaphore: %v", err)
		}
		ref, err := conn.Request("GET", p, [][2]string{{"accept", "*/*"}}, nil)
		if err != nil {
			fmt.Printf("%s: request error: %v\n", p, err)
			sem.Release(1)
			pending--
			continue
		}
		pathByRef[ref] = p
	}

	for pending > 0 {
		result := conn.Recv(1, 30000)
		if result.Err != nil {
			log.Fatalf("recv: %v", result.Err)
		}
		for _, r := range result.Responses {
			if finished, ref := printResponse(pathByRef, r); finished {
				sem.Release(1)
				pending--
				delete(pathByRef, ref)
			}
		}
	}
}

func printResponse(pathByRef map[h2c.RequestRef]string, r h2c.Response) (finished bool, ref h2c.RequestRef) {
	switch v := r.(type) {
	case h2c.StatusResponse:
		fmt.Printf("%s: status %d\n", pathByRef[v.Ref], v.Code)
	case h2c.DataResponse:
		fmt.Printf("%s: %d bytes\n", pathByRef[v.Ref], len(v.Chunk))
	case h2c.DoneResponse:
		fmt.Printf("%s: done\n", pathByRef[v.Ref])
		return true, v.Ref
	case h2c.ErrorResponse:
		fmt.Printf("%s: error %v\n", pathByRef[v.Ref], v.Err)
		return true, v.Ref
	}
	return false, h2c.RequestRef{}
}
