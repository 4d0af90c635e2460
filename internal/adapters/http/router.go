// Package http serves the local status endpoint: a read-only view of
// the room session for operators and scripts. Disabled unless a bind
// address is configured.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dtrnv/roommix/internal/app"
	"github.com/dtrnv/roommix/internal/domain"
)

// Stats is what GET /api/stats returns.
type Stats struct {
	Room  string         `json:"room"`
	ID    domain.PeerID  `json:"id"`
	Peers []app.PeerStat `json:"peers"`
	Cols  int            `json:"grid_cols"`
	Rows  int            `json:"grid_rows"`
}

// StatsSource decouples the router from the Session for tests.
type StatsSource interface {
	Snapshot() []app.PeerStat
	VideoGrid() (cols, rows int)
}

func SetupRouter(room string, id domain.PeerID, src StatsSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/api/stats", func(c *gin.Context) {
		cols, rows := src.VideoGrid()
		c.JSON(200, Stats{
			Room:  room,
			ID:    id,
			Peers: src.Snapshot(),
			Cols:  cols,
			Rows:  rows,
		})
	})

	log.Info().Str("module", "adapters.http").Str("room", room).Msg("status router setup")
	return r
}
