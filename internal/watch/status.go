package watch

import (
	"context"
	"time"

	"hybridtag/internal/db"
	"hybridtag/internal/gps"
	"hybridtag/internal/util"
)

// RunStatus prints periodic status lines: sighting counters, last GPS
// fix, battery.
func RunStatus(ctx context.Context, interval time.Duration, store *db.Store, gpsState *gps.State, sessionID int64) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			printOnce(ctx, store, gpsState, sessionID)
		}
	}
}

func printOnce(ctx context.Context, store *db.Store, gpsState *gps.State, sessionID int64) {
	if store != nil {
		total, own, err := store.SightingStats(ctx, sessionID)
		if err == nil {
			util.Linef("[STATS]", util.ColorGray, "Sightings: %d, Own: %d", total, own)
		}
	}

	if gpsState != nil {
		gpsLine := "offline"
		if s := gpsState.GPSStringForRecord(); s != nil {
			gpsLine = *s
		}
		util.Linef("[GPS DATA]", util.ColorCyan, "%s", gpsLine)
	}

	if pct := util.BatteryPercent(); pct != "" {
		util.Linef("[BATTERY]", util.ColorGray, "%s", pct)
	}
}
