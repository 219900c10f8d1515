package radio

import (
	"fmt"
	"log"
	"time"

	"tinygo.org/x/bluetooth"

	"hybridtag/internal/identity"
)

// BlueZ drives advertising on a single adapter. All methods are called
// from the engine goroutine; reconfiguring the default advertisement
// between Stop and Start is how the identity flips.
type BlueZ struct {
	adapterID string
	localName string
	interval  time.Duration

	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	started bool
}

type BlueZOptions struct {
	AdapterID string // hciN, required
	LocalName string
	Interval  time.Duration
}

func NewBlueZ(opts BlueZOptions) (*BlueZ, error) {
	if _, err := adapterIndex(opts.AdapterID); err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}

	adapter := bluetooth.NewAdapter(opts.AdapterID)
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable %s: %w", opts.AdapterID, err)
	}
	log.Printf("radio: adapter %s enabled", opts.AdapterID)

	return &BlueZ{
		adapterID: opts.AdapterID,
		localName: opts.LocalName,
		interval:  opts.Interval,
		adapter:   adapter,
	}, nil
}

// Adapter exposes the underlying handle so the provisioning service can
// register on the same adapter.
func (b *BlueZ) Adapter() *bluetooth.Adapter {
	return b.adapter
}

func (b *BlueZ) AdapterID() string {
	return b.adapterID
}

// SetAddress programs the controller address. Advertising must already
// be stopped; the controller is power-cycled around the change.
func (b *BlueZ) SetAddress(addr [6]byte) error {
	return setControllerAddress(b.adapterID, addr)
}

func (b *BlueZ) Advertise(p identity.Protocol, frame []byte, connectable bool) error {
	opts, err := advertisementOptions(p, frame, b.localName, connectable, b.interval)
	if err != nil {
		return err
	}
	adv := b.adapter.DefaultAdvertisement()
	if adv == nil {
		return fmt.Errorf("no default advertisement on %s", b.adapterID)
	}
	if err := adv.Configure(opts); err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}
	b.adv = adv
	b.started = true
	return nil
}

// Stop is idempotent; the engine calls it before every address change
// and once more on the way out.
func (b *BlueZ) Stop() error {
	if !b.started || b.adv == nil {
		return nil
	}
	if err := b.adv.Stop(); err != nil {
		return fmt.Errorf("stop advertisement: %w", err)
	}
	b.started = false
	return nil
}
