package comm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// Board plays the locker board's side of a link. Every command line is
// acknowledged with "A"; a check-in (…T) is then answered with F<slot>
// and a check-out (…R) with E<slot>, slot being the two characters after
// the command letter.
type Board struct {
	AckDelay   time.Duration
	ReplyDelay time.Duration
	// Received, if set, sees every command line.
	Received func(cmd string)
}

// Serve answers commands on rw until it fails or reaches EOF, and then
// closes rw.
func (b *Board) Serve(rw io.ReadWriteCloser) error {
	defer rw.Close()
	done := make(chan struct{})
	defer close(done)

	cmds := make(chan string, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(cmds)
		sc := bufio.NewScanner(rw)
		for sc.Scan() {
			select {
			case cmds <- strings.TrimRight(sc.Text(), "\r"):
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for cmd := range cmds {
		if b.Received != nil {
			b.Received(cmd)
		}
		if err := b.reply(rw, b.AckDelay, "A"); err != nil {
			return err
		}
		if r := BoardReply(cmd); r != "" {
			if err := b.reply(rw, b.ReplyDelay, r); err != nil {
				return err
			}
		}
	}
	return <-readErr
}

func (b *Board) reply(w io.Writer, delay time.Duration, text string) error {
	if delay > 0 {
		time.Sleep(delay)
	}
	_, err := io.WriteString(w, text+"\n")
	return err
}

// BoardReply is the door report the board sends after cmd, or "" if none.
// The board always reports check-ins as full and check-outs as empty.
func BoardReply(cmd string) string {
	if len(cmd) < 3 {
		return ""
	}
	slot := cmd[1:3]
	switch {
	case strings.HasSuffix(cmd, "T"):
		return fmt.Sprintf("F%2s", slot)
	case strings.HasSuffix(cmd, "R"):
		return fmt.Sprintf("E%2s", slot)
	}
	return ""
}
