//go:build linux

// Command boardsim makes a Linux machine answer like a locker board over
// Bluetooth SPP, so the daemon can be tested end to end on real radios.
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dosgo/btLocker/comm"

	"go.uber.org/zap"
)

func main() {
	channel := flag.Uint("channel", 1, "RFCOMM channel to register")
	ack := flag.Duration("ack-delay", 500*time.Millisecond, "delay before acknowledging a command")
	reply := flag.Duration("reply-delay", 5*time.Second, "delay before the door report")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	ln, err := ListenRFCOMM(comm.SPPUUID, uint16(*channel))
	if err != nil {
		log.Fatal("boardsim: listen", zap.Error(err))
	}
	log.Info("boardsim: waiting for connections", zap.String("uuid", ln.UUID()), zap.Uint("channel", *channel))

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("boardsim: shutting down")
		if err := ln.Close(); err != nil {
			log.Warn("boardsim: unregister profile", zap.Error(err))
		}
	}()

	for {
		peer, err := ln.Accept()
		if errors.Is(err, errListenerClosed) {
			return
		}
		if err != nil {
			log.Warn("boardsim: accept", zap.Error(err))
			continue
		}
		remote := string(peer.Device)
		log.Info("boardsim: host connected", zap.String("remote", remote))
		go func() {
			b := &comm.Board{
				AckDelay:   *ack,
				ReplyDelay: *reply,
				Received: func(cmd string) {
					log.Info("boardsim: command", zap.String("remote", remote), zap.String("command", cmd))
				},
			}
			err := b.Serve(peer)
			log.Info("boardsim: host gone", zap.String("remote", remote), zap.Error(err))
		}()
	}
}
