// Package watch observes the air from a second adapter, picks Offline
// Finding and FMDN advertisements out of the scan results, flags the
// ones built from the tag's own keys, and records them as sightings.
package watch

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	tg "tinygo.org/x/bluetooth"

	"hybridtag/internal/db"
	"hybridtag/internal/gps"
	"hybridtag/internal/identity"
	"hybridtag/internal/util"
)

const (
	scanWindow       = 3 * time.Second
	scanPause        = 3 * time.Second
	sightingCooldown = 30 * time.Second
)

type Options struct {
	AdapterID string
	Material  identity.Material
	Store     *db.Store
	GPS       *gps.State
	SessionID int64
}

// observation is one finder-network advertiser seen during a scan
// window. Deduplicated per MAC; the last packet wins.
type observation struct {
	addr    tg.Address
	rssi    int
	name    string
	network identity.Protocol
	own     bool
	payload []byte
}

// Run scans in fixed windows until ctx ends. Results are throttled per
// address so a tag beaconing at 100 ms does not flood the store.
func Run(ctx context.Context, opts Options) error {
	adapter := tg.NewAdapter(opts.AdapterID)
	if err := adapter.Enable(); err != nil {
		return err
	}

	util.Linef("[WATCH]", util.ColorCyan, "watching on %s", opts.AdapterID)
	log.Printf("watch: started on %s", opts.AdapterID)

	lastInsert := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		found, err := scanFor(ctx, adapter, scanWindow, opts.Material)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			util.Linef("[ERROR]", util.ColorYellow, "scan failed on %s: %v", opts.AdapterID, err)
			log.Printf("watch: scan error: %v", err)
			sleepCtx(ctx, scanPause)
			continue
		}

		for mac, obs := range found {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if !shouldRecord(lastInsert, mac, time.Now()) {
				continue
			}
			recordSighting(ctx, opts, mac, obs)
		}

		sleepCtx(ctx, scanPause)
	}
}

func recordSighting(ctx context.Context, opts Options, mac string, obs observation) {
	if obs.own {
		util.Linef("[OWN]", util.ColorGreen, "%s %s RSSI: %d", obs.network, mac, obs.rssi)
	} else {
		util.Linef("[SIGHT]", util.ColorGray, "%s %s RSSI: %d", obs.network, mac, obs.rssi)
	}
	log.Printf("watch: %s %s rssi=%d own=%v", obs.network, mac, obs.rssi, obs.own)

	if opts.Store == nil {
		return
	}
	var latPtr, lonPtr *float64
	if opts.GPS != nil {
		if lat, lon, ok, _ := opts.GPS.FixSnapshot(); ok {
			latCopy, lonCopy := lat, lon
			latPtr, lonPtr = &latCopy, &lonCopy
		}
	}
	err := opts.Store.InsertSighting(ctx, db.Sighting{
		SessionID: opts.SessionID,
		MAC:       mac,
		AddrType:  classifyAddress(obs.addr),
		Timestamp: util.NowTimestamp(),
		RSSI:      obs.rssi,
		Network:   obs.network.String(),
		Own:       obs.own,
		Name:      util.SafeName(obs.name),
		FrameHex:  util.BytesToHex(obs.payload),
		Lat:       latPtr,
		Lon:       lonPtr,
	})
	if err != nil {
		log.Printf("watch: insert sighting: %v", err)
	}
}

// shouldRecord applies the per-address insert cooldown and marks the
// address as recorded when it passes.
func shouldRecord(last map[string]time.Time, mac string, now time.Time) bool {
	if t, ok := last[mac]; ok && now.Sub(t) < sightingCooldown {
		return false
	}
	last[mac] = now
	return true
}

// scanFor runs one scan window and keeps only finder-network packets.
func scanFor(ctx context.Context, adapter *tg.Adapter, d time.Duration, material identity.Material) (map[string]observation, error) {
	results := map[string]observation{}
	var mu sync.Mutex

	// A previous window may still count as active discovery in BlueZ.
	_ = adapter.StopScan()
	time.Sleep(150 * time.Millisecond)

	scanErrCh := make(chan error, 1)
	go func() {
		scanErrCh <- adapter.Scan(func(_ *tg.Adapter, res tg.ScanResult) {
			obs, ok := matchObservation(res, material)
			if !ok {
				return
			}
			mac := strings.ToUpper(res.Address.String())
			mu.Lock()
			results[mac] = obs
			mu.Unlock()
		})
	}()

	select {
	case <-ctx.Done():
		_ = adapter.StopScan()
		select {
		case <-scanErrCh:
		case <-time.After(8 * time.Second):
		}
		return results, ctx.Err()
	case <-time.After(d):
		_ = adapter.StopScan()
		select {
		case <-scanErrCh:
		case <-time.After(8 * time.Second):
			return results, context.DeadlineExceeded
		}
		time.Sleep(150 * time.Millisecond)
		return results, nil
	case err := <-scanErrCh:
		_ = adapter.StopScan()
		time.Sleep(150 * time.Millisecond)
		return results, err
	}
}

// matchObservation decides whether a scan result is an Offline Finding
// or FMDN advertiser and whether it carries our key.
func matchObservation(res tg.ScanResult, material identity.Material) (observation, bool) {
	network, own, payload, ok := matchPayload(res.ManufacturerData(), res.ServiceData(), material)
	if !ok {
		return observation{}, false
	}
	return observation{
		addr:    res.Address,
		rssi:    int(res.RSSI),
		name:    res.LocalName(),
		network: network,
		own:     own,
		payload: payload,
	}, true
}

func matchPayload(mfg []tg.ManufacturerDataElement, svc []tg.ServiceDataElement, material identity.Material) (identity.Protocol, bool, []byte, bool) {
	for _, m := range mfg {
		if m.CompanyID != identity.AppleCompanyID {
			continue
		}
		of, ok := identity.ParseOfflineFinding(m.Data)
		if !ok {
			continue
		}
		payload := append([]byte(nil), m.Data...)
		return identity.ProtocolApple, of.MatchesKey(material.AppleKey), payload, true
	}

	fmdnUUID := tg.New16BitUUID(identity.FMDNServiceUUID)
	for _, s := range svc {
		if s.UUID != fmdnUUID {
			continue
		}
		fr, ok := identity.ParseFMDN(s.Data)
		if !ok {
			continue
		}
		payload := append([]byte(nil), s.Data...)
		return identity.ProtocolGoogle, fr.MatchesKey(material.GoogleKey), payload, true
	}

	return 0, false, nil, false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
