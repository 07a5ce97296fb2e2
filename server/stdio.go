package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// maxMessageSize bounds a single newline-delimited message.
	maxMessageSize = 4 * 1024 * 1024

	// maxInFlight bounds concurrently handled requests per connection.
	maxInFlight = 8
)

// ServeStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w, one per line. Requests are handled concurrently; writes
// are serialized. It returns when r is exhausted (after in-flight requests
// finish) or ctx is done.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	write := func(data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		return nil
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			msg := make([]byte, len(line))
			copy(msg, line)
			select {
			case lines <- msg:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)

	s.log.Info("serving on stdio")
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case msg, ok := <-lines:
			if !ok {
				break loop
			}
			g.Go(func() error {
				resp := s.handler.Handle(gctx, msg)
				if resp == nil {
					return nil
				}
				return write(resp)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	select {
	case err := <-scanErr:
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read request: %w", err)
		}
	default:
	}
	return ctx.Err()
}
