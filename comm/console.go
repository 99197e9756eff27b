package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Controller is the surface the console and the HTTP API drive. *Client
// implements it.
type Controller interface {
	Connect() error
	Disconnect()
	SendCommand(text string)
	State() State
	Target() string
}

// Subscriber hands out event streams. *Hub implements it.
type Subscriber interface {
	Subscribe() (<-chan Event, func())
}

// Console is a line-oriented TCP front end. Every line a client sends is
// passed to SendCommand, and every event is written back:
//
//	< F01              message from the board
//	* connected        link up
//	* connection lost  link down
//
// Lines starting with ':' are handled locally: :state, :connect and
// :disconnect.
type Console struct {
	ctl    Controller
	events Subscriber
	log    *zap.Logger

	wg sync.WaitGroup
}

func NewConsole(ctl Controller, events Subscriber, log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{ctl: ctl, events: events, log: log}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (c *Console) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("comm: console listen %s: %w", addr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then closes ln and every client
// connection and waits for their handlers.
func (c *Console) Serve(ctx context.Context, ln net.Listener) error {
	defer c.wg.Wait()
	defer ln.Close()
	c.log.Info("comm: console listening", zap.Stringer("addr", ln.Addr()))

	type deadliner interface{ SetDeadline(time.Time) error }
	for {
		select {
		case <-ctx.Done():
			c.log.Info("comm: console stopped")
			return nil
		default:
		}
		// Wake up periodically to notice ctx.
		if dl, ok := ln.(deadliner); ok {
			dl.SetDeadline(time.Now().Add(time.Second))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.log.Warn("comm: console accept", zap.Error(err))
			continue
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handle(ctx, conn)
		}()
	}
}

func (c *Console) handle(ctx context.Context, conn net.Conn) {
	log := c.log.With(zap.Stringer("remote", conn.RemoteAddr()))
	log.Info("comm: console client connected")
	defer log.Info("comm: console client gone")
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var wmu sync.Mutex
	writeLine := func(format string, args ...any) {
		wmu.Lock()
		defer wmu.Unlock()
		if _, err := fmt.Fprintf(conn, format+"\n", args...); err != nil {
			log.Debug("comm: console write", zap.Error(err))
		}
	}

	events, unsub := c.events.Subscribe()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for e := range events {
			writeLine("%s", FormatEvent(e))
		}
	}()
	defer func() {
		unsub()
		<-writerDone
	}()

	writeLine("* %s %s", c.ctl.Target(), c.ctl.State())
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch line {
		case "":
		case ":state":
			writeLine("* %s", c.ctl.State())
		case ":connect":
			if err := c.ctl.Connect(); err != nil {
				writeLine("! %v", err)
				continue
			}
			writeLine("* %s", c.ctl.State())
		case ":disconnect":
			c.ctl.Disconnect()
			writeLine("* %s", c.ctl.State())
		default:
			if strings.HasPrefix(line, ":") {
				writeLine("! unknown console command %s", line)
				continue
			}
			if c.ctl.State() != StateConnected {
				writeLine("! not connected, dropped %s", line)
				continue
			}
			c.ctl.SendCommand(line)
		}
	}
}

// FormatEvent renders e the way the console prints it.
func FormatEvent(e Event) string {
	switch e.Kind {
	case EventMessage:
		return "< " + e.Text
	case EventConnected:
		return "* connected"
	case EventConnectionLost:
		return "* connection lost"
	}
	return "* " + e.Kind.String()
}
