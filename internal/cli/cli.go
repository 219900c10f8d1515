// Package cli defines the command tree. One binary, one role per
// invocation: the tag daemon, the over-the-air provisioner, the field
// verifier, key maintenance, or the serial console monitor.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"hybridtag/internal/blink"
	"hybridtag/internal/config"
	"hybridtag/internal/db"
	"hybridtag/internal/engine"
	"hybridtag/internal/gps"
	"hybridtag/internal/identity"
	"hybridtag/internal/keystore"
	"hybridtag/internal/monitor"
	"hybridtag/internal/provision"
	"hybridtag/internal/radio"
	"hybridtag/internal/util"
	"hybridtag/internal/watch"
)

type CLI struct {
	Config string `help:"Config file." short:"c" default:"hybridtag.yaml" type:"path"`

	Run       RunCmd       `cmd:"" default:"1" help:"Run the tag daemon (advertiser + provisioning service)."`
	Provision ProvisionCmd `cmd:"" help:"Push a key onto a running tag over the air."`
	Watch     WatchCmd     `cmd:"" help:"Scan for the tag's frames and record sightings."`
	Keys      KeysCmd      `cmd:"" help:"Inspect or edit the stored keys."`
	Monitor   MonitorCmd   `cmd:"" help:"Tail a tag's serial console."`
}

// openStore opens the sqlite file; Open runs the schema.
func openStore(cfg config.Config) (*db.Store, error) {
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	return store, nil
}

type RunCmd struct {
	Adapter string `help:"Bluetooth adapter to use, overrides the config file." placeholder:"hciN"`
}

// restarter forwards restart requests from the provisioning service to
// whichever engine incarnation is currently running. GATT writes arrive
// on a BlueZ goroutine while the run loop swaps engines, hence the lock.
type restarter struct {
	mu  sync.Mutex
	eng *engine.Engine
}

func (r *restarter) set(e *engine.Engine) {
	r.mu.Lock()
	r.eng = e
	r.mu.Unlock()
}

func (r *restarter) Restart(delay time.Duration, reason string) {
	r.mu.Lock()
	e := r.eng
	r.mu.Unlock()
	if e != nil {
		e.ScheduleRestart(delay, reason)
	}
}

// storeRecorder writes engine switch results to the store. The engine
// loop calls this inline, so failures are logged rather than returned.
type storeRecorder struct {
	store     *db.Store
	sessionID int64
}

func (r storeRecorder) RecordSwitch(protocol, address string, ok bool, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := r.store.RecordSwitch(ctx, db.SwitchParams{
		SessionID: r.sessionID,
		Protocol:  protocol,
		Address:   address,
		OK:        ok,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("record switch: %v", err)
	}
}

func (c *RunCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if c.Adapter != "" {
		cfg.Adapter = c.Adapter
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	adapterID, err := radio.PickAdapter(cfg.Adapter)
	if err != nil {
		return err
	}
	radio.Preflight(ctx, adapterID, radio.PreflightOptions{RestartBluetoothService: true})

	led := blinkSink(cfg)

	sessionID, sessionUUID, err := store.CreateSession(ctx, "run", adapterID, cfg.DeviceName, cfg.DefaultProtocol)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	util.Linef("[SESSION]", util.ColorGray, "id=%d uuid=%s adapter=%s", sessionID, sessionUUID, adapterID)

	rad, err := radio.NewBlueZ(radio.BlueZOptions{
		AdapterID: adapterID,
		LocalName: cfg.DeviceName,
		Interval:  cfg.AdvertisingInterval.Std(),
	})
	if err != nil {
		return err
	}

	fwd := &restarter{}
	if cfg.Management {
		srv, err := provision.NewServer(provision.ServerOptions{
			AuthToken:    cfg.Provisioning.AuthToken,
			Scheme:       provision.Scheme(cfg.Provisioning.Chunks),
			RestartDelay: cfg.Provisioning.RestartDelay.Std(),
			Commit: func(ctx context.Context, p identity.Protocol, key []byte) error {
				return keystore.Commit(ctx, store, p, key)
			},
			Restart: fwd.Restart,
			Record: func(event, detail string) {
				rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := store.RecordProvisioningEvent(rctx, sessionID, event, detail); err != nil {
					log.Printf("record provisioning event: %v", err)
				}
			},
		})
		if err != nil {
			return err
		}
		if err := srv.Register(rad.Adapter()); err != nil {
			return err
		}
		util.Linef("[PROV]", util.ColorCyan, "provisioning service up as %q", cfg.DeviceName)
	}

	rec := storeRecorder{store: store, sessionID: sessionID}
	for {
		state, err := keystore.Load(ctx, store)
		if err != nil {
			return err
		}
		log.Printf("keys: apple provisioned=%v google provisioned=%v",
			state.AppleProvisioned, state.GoogleProvisioned)

		eng, err := engine.New(engine.Options{
			Start:          cfg.Protocol(),
			Material:       state.Material,
			SwitchInterval: cfg.SwitchInterval.Std(),
			BlinkInterval:  cfg.BlinkInterval.Std(),
			Connectable:    cfg.Management,
			Radio:          rad,
			LED:            led,
			Recorder:       rec,
		})
		if err != nil {
			return err
		}
		fwd.set(eng)

		err = eng.Run(ctx)
		if errors.Is(err, engine.ErrRestartRequested) {
			// Reload keys and bring the engine back up.
			continue
		}
		if errors.Is(err, context.Canceled) {
			printRunSummary(store, sessionID)
			util.Line("[EXIT]", util.ColorGray, "stopping")
			return nil
		}
		return err
	}
}

// printRunSummary prints the session's switch totals on the way out. The
// run context is already canceled here, hence the fresh one.
func printRunSummary(store *db.Store, sessionID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	total, failed, err := store.SwitchStats(ctx, sessionID)
	if err != nil {
		log.Printf("switch stats: %v", err)
		return
	}
	util.Linef("[STATS]", util.ColorGray, "Switches: %d, Failed: %d", total, failed)
}

func blinkSink(cfg config.Config) blink.LED {
	if cfg.LED.Name == "" {
		return blink.NopLED{}
	}
	led, err := blink.NewSysfsLED(cfg.LED.Name)
	if err != nil {
		util.Linef("[WARN]", util.ColorYellow, "%v", err)
		log.Printf("led: %v", err)
		return blink.NopLED{}
	}
	return led
}

type ProvisionCmd struct {
	Key     string `arg:"" help:"Key to provision, hex. 28 bytes select the apple slot, 20 the google slot."`
	Name    string `help:"Advertised name of the tag; defaults to the configured device name."`
	Address string `help:"Tag address, overrides --name." placeholder:"MAC"`
	Adapter string `help:"Client-side adapter." placeholder:"hciN"`
}

func (c *ProvisionCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	key, err := util.ParseHex(c.Key)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	p, err := identity.ProtocolForKeyLen(len(key))
	if err != nil {
		return err
	}
	if c.Address != "" && !util.IsMACAddress(c.Address) {
		return fmt.Errorf("not a device address: %s", c.Address)
	}

	name := c.Name
	if name == "" && c.Address == "" {
		name = cfg.DeviceName
	}
	scheme := schemeFor(cfg, len(key))
	util.Linef("[PROV]", util.ColorCyan, "provisioning %s key (%d bytes, chunks %v)", p, len(key), []int(scheme))

	err = provision.Provision(ctx, provision.ClientOptions{
		AdapterID: c.Adapter,
		Name:      name,
		Address:   c.Address,
		AuthToken: cfg.Provisioning.AuthToken,
		Scheme:    scheme,
	}, key)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// schemeFor picks the chunk sizes for a key: the configured scheme when
// it fits, an even two-way split otherwise.
func schemeFor(cfg config.Config, keyLen int) provision.Scheme {
	s := provision.Scheme(cfg.Provisioning.Chunks)
	if s.Total() == keyLen {
		return s
	}
	half := keyLen / 2
	return provision.Scheme{half, keyLen - half}
}

type WatchCmd struct {
	Adapter   string        `help:"Adapter to scan with, overrides the config file." placeholder:"hciN"`
	AppleKey  string        `help:"Expect this apple key (hex) instead of the stored one." placeholder:"HEX"`
	GoogleKey string        `help:"Expect this google key (hex) instead of the stored one." placeholder:"HEX"`
	Stats     time.Duration `help:"Status line interval." default:"15s"`
}

func (c *WatchCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if c.Adapter != "" {
		cfg.Adapter = c.Adapter
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := keystore.Load(ctx, store)
	if err != nil {
		return err
	}
	material := state.Material
	if c.AppleKey != "" {
		if material.AppleKey, err = parseKey(c.AppleKey, identity.AppleKeyLen, "apple"); err != nil {
			return err
		}
	}
	if c.GoogleKey != "" {
		if material.GoogleKey, err = parseKey(c.GoogleKey, identity.GoogleKeyLen, "google"); err != nil {
			return err
		}
	}

	adapterID, err := radio.PickAdapter(cfg.Adapter)
	if err != nil {
		return err
	}

	gpsState := gps.NewState(cfg.GPS.Enabled, 0)
	defer gpsState.Stop()
	if cfg.GPS.Enabled {
		if err := gpsState.Start(ctx, gps.Config{Device: cfg.GPS.Device, Baud: cfg.GPS.Baud}); err != nil {
			return fmt.Errorf("start GPS reader: %w", err)
		}
	}

	sessionID, sessionUUID, err := store.CreateSession(ctx, "watch", adapterID, cfg.DeviceName, cfg.DefaultProtocol)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	util.Linef("[SESSION]", util.ColorGray, "id=%d uuid=%s adapter=%s", sessionID, sessionUUID, adapterID)

	go watch.RunStatus(ctx, c.Stats, store, gpsState, sessionID)

	err = watch.Run(ctx, watch.Options{
		AdapterID: adapterID,
		Material:  material,
		Store:     store,
		GPS:       gpsState,
		SessionID: sessionID,
	})
	if errors.Is(err, context.Canceled) {
		util.Line("[EXIT]", util.ColorGray, "stopping")
		return nil
	}
	return err
}

func parseKey(s string, want int, slot string) ([]byte, error) {
	b, err := util.ParseHex(s)
	if err != nil {
		return nil, fmt.Errorf("%s key: %w", slot, err)
	}
	if len(b) != want {
		return nil, fmt.Errorf("%s key must be %d bytes, got %d", slot, want, len(b))
	}
	return b, nil
}

type KeysCmd struct {
	Show  KeysShowCmd  `cmd:"" default:"1" help:"Print both keys and the addresses they derive."`
	Set   KeysSetCmd   `cmd:"" help:"Store a key directly, bypassing the radio."`
	Clear KeysClearCmd `cmd:"" help:"Drop stored keys; the factory defaults apply on the next run."`
}

type KeysShowCmd struct{}

func (c *KeysShowCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := keystore.Load(ctx, store)
	if err != nil {
		return err
	}
	printSlot(identity.ProtocolApple, st.Material.AppleKey, st.AppleProvisioned)
	printSlot(identity.ProtocolGoogle, st.Material.GoogleKey, st.GoogleProvisioned)
	return nil
}

func printSlot(p identity.Protocol, key []byte, provisioned bool) {
	origin := "factory default"
	if provisioned {
		origin = "provisioned"
	}
	addrStr := "?"
	if addr, err := identity.AddressFor(p, key); err == nil {
		addrStr = identity.FormatAddress(addr)
	}
	fmt.Printf("%-7s %s\n", p, util.HexCompact(key))
	fmt.Printf("        %s, address %s\n", origin, addrStr)
}

type KeysSetCmd struct {
	Key string `arg:"" help:"Key as hex; the length picks the slot (28 bytes apple, 20 google)."`
}

func (c *KeysSetCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	key, err := util.ParseHex(c.Key)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	p, err := identity.ProtocolForKeyLen(len(key))
	if err != nil {
		return err
	}
	if err := keystore.Commit(ctx, store, p, key); err != nil {
		return err
	}
	addrStr := "?"
	if addr, err := identity.AddressFor(p, key); err == nil {
		addrStr = identity.FormatAddress(addr)
	}
	fmt.Printf("%s key stored, address %s\n", p, addrStr)
	return nil
}

type KeysClearCmd struct{}

func (c *KeysClearCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := keystore.Clear(ctx, store); err != nil {
		return err
	}
	fmt.Println("stored keys cleared, factory defaults apply on the next run")
	return nil
}

type MonitorCmd struct {
	Device string `help:"Serial device to tail; guessed when empty." placeholder:"/dev/ttyACM0"`
	Baud   int    `help:"Serial baud rate." default:"115200"`
}

func (c *MonitorCmd) Run(ctx context.Context, root *CLI) error {
	return monitor.Run(ctx, monitor.Options{Device: c.Device, Baud: c.Baud})
}
