package provision

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"hybridtag/internal/identity"
	"hybridtag/internal/util"
)

// Vendor-specific provisioning service. The auth and key characteristics
// are write-only; status is read-only and mirrors the session state so a
// provisioner can tell a rejected write from an accepted one.
var (
	ServiceUUID    = bluetooth.NewUUID(uuid.MustParse("8c5debdb-ad8d-4810-a31f-53862e79ee77"))
	AuthCharUUID   = bluetooth.NewUUID(uuid.MustParse("8c5debdf-ad8d-4810-a31f-53862e79ee77"))
	KeyCharUUID    = bluetooth.NewUUID(uuid.MustParse("8c5debde-ad8d-4810-a31f-53862e79ee77"))
	StatusCharUUID = bluetooth.NewUUID(uuid.MustParse("8c5debdd-ad8d-4810-a31f-53862e79ee77"))
)

const commitTimeout = 5 * time.Second

// ServerOptions wires the provisioning service to the rest of the tag.
type ServerOptions struct {
	AuthToken    string
	Scheme       Scheme
	RestartDelay time.Duration

	// Commit persists an assembled key.
	Commit func(ctx context.Context, p identity.Protocol, key []byte) error
	// Restart schedules the deferred restart after a successful commit.
	Restart func(delay time.Duration, reason string)
	// Record stores an audit event. May be nil.
	Record func(event, detail string)
}

// Server owns the provisioning GATT service. BlueZ delivers write events
// one at a time, but they race against reads of the status value, so all
// session access goes through the mutex.
type Server struct {
	opts ServerOptions

	mu      sync.Mutex
	session *Session
	status  *bluetooth.Characteristic
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Commit == nil || opts.Restart == nil {
		return nil, fmt.Errorf("provisioning server needs commit and restart hooks")
	}
	session, err := NewSession(opts.AuthToken, opts.Scheme)
	if err != nil {
		return nil, err
	}
	return &Server{opts: opts, session: session}, nil
}

// Register adds the provisioning service to an already enabled adapter.
// The second Enable pushes the new GATT application to BlueZ.
func (s *Server) Register(adapter *bluetooth.Adapter) error {
	status := &bluetooth.Characteristic{}
	err := adapter.AddService(&bluetooth.Service{
		UUID: ServiceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  AuthCharUUID,
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					s.handleAuth(value)
				},
			},
			{
				UUID:  KeyCharUUID,
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					s.handleKey(value)
				},
			},
			{
				Handle: status,
				UUID:   StatusCharUUID,
				Flags:  bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("add provisioning service: %w", err)
	}
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter with provisioning service: %w", err)
	}

	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			util.Line("[PROV]", util.ColorCyan, "central connected")
			return
		}
		util.Line("[PROV]", util.ColorGray, "central disconnected")
		s.handleDisconnect()
	})

	s.mu.Lock()
	s.status = status
	s.pushStatus()
	s.mu.Unlock()
	return nil
}

func (s *Server) handleAuth(value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.session.Authenticate(value); err != nil {
		util.Line("[PROV]", util.ColorYellow, "auth token rejected")
		log.Printf("provision: auth rejected: %v", err)
		s.record("auth_rejected", err.Error())
		s.pushStatus()
		return
	}
	util.Line("[PROV]", util.ColorCyan, "caller authenticated")
	log.Printf("provision: caller authenticated")
	s.record("authenticated", "")
	s.pushStatus()
}

func (s *Server) handleKey(value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, done, err := s.session.WriteChunk(value)
	if err != nil {
		util.Linef("[PROV]", util.ColorYellow, "key chunk rejected: %v", err)
		log.Printf("provision: chunk rejected: %v", err)
		s.record("chunk_rejected", err.Error())
		s.pushStatus()
		return
	}
	if !done {
		received, total := s.session.Progress()
		util.Linef("[PROV]", util.ColorGray, "key chunk accepted (%d/%d bytes)", received, total)
		log.Printf("provision: key chunk accepted (%d/%d bytes)", received, total)
		s.record("chunk_accepted", fmt.Sprintf("%d/%d bytes", received, total))
		s.pushStatus()
		return
	}

	s.commit(key)
}

// commit persists an assembled key and schedules the restart. Called with
// the mutex held.
func (s *Server) commit(key []byte) {
	p, err := identity.ProtocolForKeyLen(len(key))
	if err != nil {
		s.session.MarkError()
		log.Printf("provision: %v", err)
		s.record("commit_failed", err.Error())
		s.pushStatus()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := s.opts.Commit(ctx, p, key); err != nil {
		s.session.MarkError()
		util.Linef("[PROV]", util.ColorYellow, "%s key commit failed: %v", p, err)
		log.Printf("provision: %s key commit failed: %v", p, err)
		s.record("commit_failed", err.Error())
		s.pushStatus()
		return
	}

	s.session.MarkCommitted()
	util.Linef("[PROV]", util.ColorGreen, "%s key committed, restart in %s", p, s.opts.RestartDelay)
	log.Printf("provision: %s key committed, restart in %s", p, s.opts.RestartDelay)
	s.record("committed", fmt.Sprintf("%s key (%d bytes)", p, len(key)))
	s.pushStatus()
	s.opts.Restart(s.opts.RestartDelay, fmt.Sprintf("%s key provisioned", p))
}

// handleDisconnect drops any half-finished exchange. A committed key
// stays committed.
func (s *Server) handleDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.session.Status()
	s.session.reset()
	if st != StatusCommitted {
		s.session.status = StatusIdle
	}
	s.pushStatus()
}

// pushStatus mirrors the session state into the status characteristic.
// Called with the mutex held.
func (s *Server) pushStatus() {
	if s.status == nil {
		return
	}
	if _, err := s.status.Write([]byte{byte(s.session.Status())}); err != nil {
		log.Printf("provision: status characteristic update: %v", err)
	}
}

func (s *Server) record(event, detail string) {
	if s.opts.Record != nil {
		s.opts.Record(event, detail)
	}
}
