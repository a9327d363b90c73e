// Command conduitmeshd is a manual smoke-testing harness: it wires an
// ApiManager to the scripted fake plugin (plugin/fake) instead of a real
// channel plugin and issues one sendReceive on a channel (which activates
// the channel and brings up a connection) — enough to watch the worker
// loop, the reuse table, and the observability counters move.
//
// Adapted from the teacher's cmd/main.go (kernel+gRPC server startup); this
// binary drives the ApiManager directly rather than exposing it over a wire
// protocol, since the spec's public surface is an in-process Go API.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/conduitmesh/core/config"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/manager"
	"github.com/conduitmesh/core/plugin/fake"
)

// stdLogger implements corectx.Logger using the standard library log
// package.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

func main() {
	channelID := flag.String("channel", "demo-channel", "channel id to activate")
	address := flag.String("address", `{"host":"localhost","port":8080}`, "link address to dial")
	flag.Parse()

	logger := &stdLogger{}
	logger.Info("conduitmeshd_starting", "channel", *channelID)

	pl := fake.New()
	cfg := config.DefaultRuntimeConfig()
	m := manager.New(*cfg, logger, pl)
	pl.SetCallbacks(m)
	m.Start()
	defer m.Stop()

	result := <-m.SendReceive(handles.ChannelID(*channelID), *address, []byte("hello"))
	if result.Err != nil {
		logger.Error("send_receive_failed", "error", result.Err)
		return
	}
	logger.Info("send_receive_succeeded", "reply_len", len(result.Reply))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.WaitForCallbacks(ctx); err != nil {
		logger.Warn("wait_for_callbacks_timed_out", "error", err)
	}
	logger.Info("conduitmeshd_done")
}
