package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"forumdm/internal/app/chat"
	"forumdm/internal/app/session"
	"forumdm/internal/app/storage"
	"forumdm/internal/app/store"
	"forumdm/internal/configs"
)

// AppDeps bundles the services the HTTP handlers share.
type AppDeps struct {
	Hub      *chat.Hub
	Store    store.Store
	Sessions *session.Resolver
	Avatars  storage.AvatarResolver
	Config   *configs.AppConfig

	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// connConfig derives per-connection websocket settings from the app config.
func (d *AppDeps) connConfig() chat.ConnConfig {
	cc := chat.DefaultConnConfig()
	if d.Config.HeartbeatInterval > 0 {
		cc.HeartbeatInterval = d.Config.HeartbeatInterval
	}
	if d.Config.MaxMissedHeartbeats > 0 {
		cc.MaxMissedHeartbeats = d.Config.MaxMissedHeartbeats
	}
	if d.Config.InboundRate > 0 {
		cc.InboundRate = rate.Limit(d.Config.InboundRate)
	}
	if d.Config.InboundBurst > 0 {
		cc.InboundBurst = d.Config.InboundBurst
	}
	// A frame holds at most MaxContentBytes of content plus the envelope.
	if limit := int64(d.Config.MaxContentBytes) + 1024; limit > cc.MaxFrameBytes {
		cc.MaxFrameBytes = limit
	}
	return cc
}
