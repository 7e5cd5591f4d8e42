package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clashroom/clashroom/internal/room"
)

// Service is the room gateway: it owns the WebSocket surface, the room
// registry behind it, and the wiring between the two. The connection manager
// doubles as the registry's Broadcaster.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	dispatcher        *CommandDispatcher
	registry          *room.Registry
}

// NewService creates the gateway service and its room registry.
func NewService(config ConnectionConfig, roomCfg room.Config, judge room.Judge) *Service {
	dispatcher := NewCommandDispatcher(nil)
	connectionManager := NewConnectionManager(config, dispatcher)
	registry := room.NewRegistry(roomCfg, connectionManager, judge)
	dispatcher.registry = registry
	dispatcher.bind(connectionManager)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		dispatcher:        dispatcher,
		registry:          registry,
	}
}

// Registry exposes the room registry.
func (s *Service) Registry() *room.Registry {
	return s.registry
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// Stats returns statistics about the gateway service.
func (s *Service) Stats() map[string]any {
	stats := s.connectionManager.Stats()
	stats["service"] = "room_gateway"
	return stats
}
