package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"medevent/internal/chat"
	"medevent/internal/config"
	"medevent/internal/db"
	clog "medevent/internal/log"
	"medevent/internal/mw"
	"medevent/internal/server"
	"medevent/internal/service"
	"medevent/internal/supabase"
	"medevent/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	// Accounts always live in the local database, the chat tables may not.
	local := db.NewStore(gdb)
	var (
		messages chat.MessageStore = local
		rooms    service.RoomStore = local
	)
	if cfg.ChatStore == config.StoreSupabase {
		sb := supabase.NewClient(cfg)
		messages, rooms = sb, sb
	}
	log.Info().Str("chat_store", cfg.ChatStore).Msg("chat store selected")

	ctx, cancelHub := context.WithCancel(context.Background())
	hub := ws.NewHub()
	go hub.Run(ctx)

	var (
		deduper    chat.Deduper
		stopDedupe func() error
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deduper, stopDedupe = chat.NewRedisDeduper(rdb, "medevent:dedupe:", cfg.DedupeTTL()), rdb.Close
	} else {
		mem := chat.NewMemoryDeduper(cfg.DedupeTTL())
		go mem.Run(time.Minute)
		deduper = mem
		stopDedupe = func() error { mem.Stop(); return nil }
	}

	relay := chat.NewRelay(messages, hub, chat.NewAdminResolver(cfg.AdminSupportID), chat.WithDeduper(deduper))
	limiter := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute, "/ws", "/metrics")

	r := server.SetupRouter(server.Deps{Config: cfg, DB: gdb, Hub: hub, Relay: relay, Rooms: rooms, Users: local, Limiter: limiter})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	// gfshutdown runs operations concurrently, so the teardown that depends on
	// drained requests stays in one ordered operation.
	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"server": func(ctx context.Context) error {
			err := srv.Shutdown(ctx)
			cancelHub()
			limiter.Stop()
			return errors.Join(err, stopDedupe(), db.Close(gdb))
		},
	})
	code := <-wait
	log.Info().Int("code", code).Msg("shutdown complete")
	os.Exit(code)
}
