// Package engine runs the tag's identity loop: a single goroutine owns
// the current protocol, the radio and the LED, and reacts to the switch
// tick, the blink tick and restart requests. Nothing else touches the
// radio while the engine runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"hybridtag/internal/blink"
	"hybridtag/internal/identity"
	"hybridtag/internal/util"
)

// ErrRestartRequested is returned by Run after a scheduled restart
// fires. The caller reloads key material and brings up a fresh engine,
// which re-derives the address from the new keys.
var ErrRestartRequested = errors.New("restart requested")

// Radio is the advertising surface the engine drives. Stop must be
// idempotent; the engine stops the radio before every address change.
type Radio interface {
	SetAddress(addr [6]byte) error
	Advertise(p identity.Protocol, frame []byte, connectable bool) error
	Stop() error
}

// Recorder persists the outcome of each identity switch. Calls come
// from the engine goroutine and must return quickly.
type Recorder interface {
	RecordSwitch(protocol, address string, ok bool, detail string)
}

type Options struct {
	Start          identity.Protocol
	Material       identity.Material
	SwitchInterval time.Duration
	BlinkInterval  time.Duration

	// Connectable makes the advertisements accept connections, needed
	// while the provisioning service is exposed.
	Connectable bool

	Radio    Radio
	LED      blink.LED
	Recorder Recorder
}

type restartRequest struct {
	delay  time.Duration
	reason string
}

// Engine precomputes both identities at construction time so malformed
// key material is rejected before anything goes on the air.
type Engine struct {
	opts     Options
	restartc chan restartRequest

	appleFrame  []byte
	googleFrame []byte
	appleAddr   [6]byte
	googleAddr  [6]byte

	// Owned by the Run goroutine.
	current   identity.Protocol
	phase     int
	faulted   bool
	ledFailed bool
}

func New(opts Options) (*Engine, error) {
	if opts.Radio == nil {
		return nil, errors.New("engine needs a radio")
	}
	if opts.SwitchInterval <= 0 || opts.BlinkInterval <= 0 {
		return nil, fmt.Errorf("intervals must be positive (switch=%s blink=%s)", opts.SwitchInterval, opts.BlinkInterval)
	}
	if opts.LED == nil {
		opts.LED = blink.NopLED{}
	}

	e := &Engine{
		opts:     opts,
		restartc: make(chan restartRequest, 4),
		current:  opts.Start,
	}
	var err error
	if e.appleFrame, err = identity.AppleFrame(opts.Material.AppleKey); err != nil {
		return nil, err
	}
	if e.googleFrame, err = identity.GoogleFrame(opts.Material.GoogleKey); err != nil {
		return nil, err
	}
	if e.appleAddr, err = identity.AddressFor(identity.ProtocolApple, opts.Material.AppleKey); err != nil {
		return nil, err
	}
	if e.googleAddr, err = identity.AddressFor(identity.ProtocolGoogle, opts.Material.GoogleKey); err != nil {
		return nil, err
	}
	return e, nil
}

// ScheduleRestart arms the deferred restart. A later call replaces an
// earlier, not-yet-fired one. Safe to call from any goroutine.
func (e *Engine) ScheduleRestart(delay time.Duration, reason string) {
	select {
	case e.restartc <- restartRequest{delay: delay, reason: reason}:
	default:
		log.Printf("engine: restart request dropped (queue full)")
	}
}

// Run drives the loop until ctx is cancelled or a restart fires. The
// radio is stopped and the LED turned off on the way out.
func (e *Engine) Run(ctx context.Context) error {
	e.bringUp()

	switchTicker := time.NewTicker(e.opts.SwitchInterval)
	defer switchTicker.Stop()
	blinkTicker := time.NewTicker(e.opts.BlinkInterval)
	defer blinkTicker.Stop()

	var restartTimer *time.Timer
	var restartC <-chan time.Time
	var restartReason string
	defer func() {
		if restartTimer != nil {
			restartTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			e.shutdown("shutdown")
			return ctx.Err()

		case <-switchTicker.C:
			e.switchTo(e.current.Other())

		case <-blinkTicker.C:
			e.blinkTick()

		case req := <-e.restartc:
			if restartTimer != nil {
				restartTimer.Stop()
			}
			restartTimer = time.NewTimer(req.delay)
			restartC = restartTimer.C
			restartReason = req.reason
			util.Linef("[ENGINE]", util.ColorCyan, "restart in %s (%s)", req.delay, req.reason)
			log.Printf("engine: restart scheduled in %s: %s", req.delay, req.reason)

		case <-restartC:
			e.shutdown("restart")
			util.Linef("[ENGINE]", util.ColorCyan, "restarting: %s", restartReason)
			return ErrRestartRequested
		}
	}
}

func (e *Engine) bringUp() {
	util.Linef("[ENGINE]", util.ColorCyan, "starting as %s, switching every %s", e.current, e.opts.SwitchInterval)
	log.Printf("engine: starting as %s (switch=%s blink=%s connectable=%v)",
		e.current, e.opts.SwitchInterval, e.opts.BlinkInterval, e.opts.Connectable)
	e.switchTo(e.current)
}

// switchTo rebuilds the whole identity for p: advertising down, address
// programmed, frame up. On failure the tag stays silent until the next
// tick and the LED shows the fault pattern; alternation keeps going.
func (e *Engine) switchTo(p identity.Protocol) {
	e.current = p
	addr := e.addr(p)
	addrStr := identity.FormatAddress(addr)

	err := e.apply(p, addr)
	if err != nil {
		e.faulted = true
		util.Linef("[SWITCH]", util.ColorYellow, "%s identity failed: %v", p, err)
		log.Printf("engine: switch to %s failed: %v", p, err)
		e.record(p, addrStr, false, err.Error())
		return
	}
	e.faulted = false
	util.Linef("[SWITCH]", util.ColorGreen, "advertising as %s (%s)", p, addrStr)
	log.Printf("engine: advertising as %s at %s", p, addrStr)
	e.record(p, addrStr, true, "")
}

func (e *Engine) apply(p identity.Protocol, addr [6]byte) error {
	// The address must not change under a live advertisement.
	if err := e.opts.Radio.Stop(); err != nil {
		return fmt.Errorf("stop advertising: %w", err)
	}
	if err := e.opts.Radio.SetAddress(addr); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	if err := e.opts.Radio.Advertise(p, e.frame(p), e.opts.Connectable); err != nil {
		return fmt.Errorf("advertise: %w", err)
	}
	return nil
}

func (e *Engine) blinkTick() {
	pattern := blink.PatternApple
	switch {
	case e.faulted:
		pattern = blink.PatternFault
	case e.current == identity.ProtocolGoogle:
		pattern = blink.PatternGoogle
	}
	on := blink.PhaseOn(pattern, e.phase)
	e.phase = (e.phase + 1) % blink.PhaseCount

	if err := e.opts.LED.Set(on); err != nil {
		if !e.ledFailed {
			log.Printf("engine: led: %v", err)
		}
		e.ledFailed = true
	}
}

func (e *Engine) shutdown(what string) {
	if err := e.opts.Radio.Stop(); err != nil {
		log.Printf("engine: %s: stop advertising: %v", what, err)
	}
	if err := e.opts.LED.Set(false); err != nil && !e.ledFailed {
		log.Printf("engine: %s: led off: %v", what, err)
	}
}

func (e *Engine) frame(p identity.Protocol) []byte {
	if p == identity.ProtocolApple {
		return e.appleFrame
	}
	return e.googleFrame
}

func (e *Engine) addr(p identity.Protocol) [6]byte {
	if p == identity.ProtocolApple {
		return e.appleAddr
	}
	return e.googleAddr
}

func (e *Engine) record(p identity.Protocol, addr string, ok bool, detail string) {
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordSwitch(p.String(), addr, ok, detail)
	}
}
