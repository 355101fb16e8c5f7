// Command vo-syncd runs the media co-watching synchronization service
// (spec §1): room coordination, media-token issuance, and streaming, all in
// one loopback-bound process.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/n0remac/vo-sync/internal/api"
	"github.com/n0remac/vo-sync/internal/clock"
	"github.com/n0remac/vo-sync/internal/config"
	"github.com/n0remac/vo-sync/internal/hub"
	"github.com/n0remac/vo-sync/internal/logging"
	"github.com/n0remac/vo-sync/internal/platform"
	"github.com/n0remac/vo-sync/internal/room"
	"github.com/n0remac/vo-sync/internal/session"
	"github.com/n0remac/vo-sync/internal/stream"
	"github.com/n0remac/vo-sync/internal/token"
)

func main() {
	log := logging.New("vo-syncd")

	cfg := config.Load(os.LookupEnv)
	clk := clock.Real{}

	tokens := token.New(config.TokenTTL, clk)
	httpClient := &http.Client{Timeout: 30 * time.Second}
	resolver := platform.NewBilibiliResolver(httpClient, tokens, logging.New("platform"))
	manager := room.New(tokens, resolver, cfg.AllowMemberControl, config.RoomTTL, clk, logging.New("room"))
	bcast := hub.New(logging.New("hub"))

	sessionHandler := session.NewHandler(manager, bcast, logging.New("session"))
	streamHandler := stream.NewHandler(tokens, httpClient, logging.New("stream"))
	server := api.New(manager, bcast, logging.New("api"))
	router := server.Router(sessionHandler, streamHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go manager.RunSweeper(ctx, config.SweepInterval)

	listener, addr, err := bindListener(cfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind sync server")
	}
	log.Info().
		Str("addr", addr).
		Bool("allowMemberControl", cfg.AllowMemberControl).
		Msg("vo-sync listening")

	httpServer := &http.Server{Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("sync server quit")
	}
}

// bindListener implements spec §6's fallback scan: the configured address,
// then ports 18080..18089 if the default was in use, then an OS-assigned
// ephemeral port.
func bindListener(addr string) (net.Listener, string, error) {
	candidates := []string{addr}
	if addr == config.DefaultListenAddr {
		for port := 18080; port < 18090; port++ {
			candidates = append(candidates, portAddr(port))
		}
		candidates = append(candidates, "127.0.0.1:0")
	}

	var lastErr error
	for _, candidate := range candidates {
		listener, err := net.Listen("tcp", candidate)
		if err == nil {
			return listener, listener.Addr().String(), nil
		}
		lastErr = err
	}
	return nil, "", lastErr
}

func portAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
