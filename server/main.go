package main

import (
	"niketsu-sync/server/src/config"
	"niketsu-sync/server/src/connection"
	"niketsu-sync/server/src/logger"
	"niketsu-sync/server/src/metadata"
	"niketsu-sync/server/src/room"
	"niketsu-sync/server/src/xtime"
)

var cfg config.GeneralConfig

func init() {
	cfg = config.GetConfig()
	logger.NewGlobalLogger(cfg.Debug)
}

func main() {
	defer logger.Sync()

	engine := room.NewEngine(xtime.NewMonotonicClock(), room.NewRealScheduler(), room.Config{
		BarrierTimeout:   cfg.BarrierTimeout,
		BufferPauseDelay: cfg.BufferPauseDelay,
		ReaperInterval:   cfg.ReaperInterval,
		SendTimeout:      cfg.SendTimeout,
	})
	engine.StartReaper()
	defer engine.Stop()

	opts := room.RoomOptions{
		ProxyEnabled:      cfg.ProxyEnabled,
		ProxyURL:          cfg.ProxyURL,
		AvailabilityCheck: cfg.AvailabilityCheck,
	}

	server := connection.NewServer(cfg.Host, cfg.Port, cfg.Cert, cfg.Key, engine, metadata.NewURLSuffixExtractor(), opts)
	if err := server.Listen(); err != nil {
		logger.Fatalw("server stopped", "error", err)
	}
}
