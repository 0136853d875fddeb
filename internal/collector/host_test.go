package collector

import (
	"time"

	"github.com/xkilldash9x/invisinsights/internal/geometry"
	"github.com/xkilldash9x/invisinsights/internal/signal"
	"github.com/xkilldash9x/invisinsights/internal/storage"
)

// pageHost is a minimal page for end-to-end tests.
type pageHost struct {
	start   time.Time
	storage *storage.Memory
}

func newPageHost() *pageHost {
	return &pageHost{start: time.Now(), storage: storage.NewMemory()}
}

func (h *pageHost) Now() int64                       { return time.Since(h.start).Milliseconds() + 1 }
func (h *pageHost) WallClock() time.Time             { return time.Now() }
func (h *pageHost) Location() signal.Location        { return signal.Location{Path: "/checkout"} }
func (h *pageHost) ViewportHeight() float64          { return 900 }
func (h *pageHost) Storage() signal.Storage          { return h.storage }
func (h *pageHost) CallsToAction() []*signal.Element { return nil }

func signalPoint(x, y float64) geometry.Vector2D { return geometry.Vector2D{X: x, Y: y} }
