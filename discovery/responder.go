// Package discovery implements Section 4.1's Discovery Responder: it
// advertises the host on the local link as a DNS-SD service of type
// _nvstream._tcp and answers probes for it, without authenticating the
// asker. It holds no per-session state; pairing and session admission
// happen entirely over the control channel a client connects to after
// resolving this advertisement.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"

	"github.com/pixelstream/streamhost/streamerr"
)

// ServiceType is the DNS-SD service type this host advertises under.
const ServiceType = "_nvstream._tcp"

// ProtocolVersion is carried in every advertisement's TXT record so
// clients can reject an incompatible host before attempting to pair.
const ProtocolVersion = "1"

const mdnsGroupAddr = "224.0.0.251:5353"

// DefaultReannounceInterval is how often the responder re-sends its full
// record set even without an interface change or incoming query.
const DefaultReannounceInterval = 60 * time.Second

// ErrDiscoveryUnavailable is returned by New when the multicast
// socket cannot be bound. Discovery is optional: callers may ignore this
// and continue serving explicit connects.
var ErrDiscoveryUnavailable = errors.New("discovery: unavailable")

// Config describes the single service instance this process advertises.
type Config struct {
	// InstanceName is the user-facing host name, e.g. "Alice's PC". It is
	// backslash-escaped ('.' and '\') into the DNS-SD instance name on
	// advertisement.
	InstanceName string
	// Hostname is the bare mDNS hostname this host resolves to, without
	// the trailing ".local.", e.g. "streamhost-3f21".
	Hostname   string
	Port       uint16
	HostID     uuid.UUID
	MaxClients int
	// Codecs lists the video codec names this host's encoder supports,
	// e.g. []string{"h264", "h265"}, advertised comma-joined.
	Codecs []string

	ReannounceInterval time.Duration
	Logger             logging.LeveledLogger
}

func (c Config) withDefaults() Config {
	if c.ReannounceInterval <= 0 {
		c.ReannounceInterval = DefaultReannounceInterval
	}
	if c.Logger == nil {
		c.Logger = logging.NewDefaultLoggerFactory().NewLogger("discovery")
	}
	return c
}

// Responder advertises Config's service record and answers PTR/SRV/TXT/A
// queries for it. Start joins the multicast group on every usable
// interface; Close sends a goodbye record (TTL 0) before leaving.
type Responder struct {
	cfg    Config
	logger logging.LeveledLogger

	// hostConn resolves cfg.Hostname via pion/mdns's plain A-record
	// responder, the same mechanism pion/ice uses to publish ICE
	// candidate hostnames on the local link.
	hostConn *mdns.Conn

	sdSocket *ipv4.PacketConn
	sdGroup  *net.UDPAddr

	mu         sync.Mutex
	lastIfaces map[string]struct{}
	closed     bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New binds the multicast sockets and constructs a Responder. It does not
// send anything until Start is called.
func New(cfg Config) (*Responder, error) {
	cfg = cfg.withDefaults()
	if cfg.Hostname == "" || cfg.InstanceName == "" {
		return nil, fmt.Errorf("discovery: Config.Hostname and InstanceName are required")
	}

	group, err := net.ResolveUDPAddr("udp4", mdnsGroupAddr)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.Transport, "discovery.New", ErrDiscoveryUnavailable)
	}

	hostSocket, err := net.ListenUDP("udp4", group)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.Transport, "discovery.New.hostSocket", ErrDiscoveryUnavailable)
	}
	hostConn, err := mdns.Server(ipv4.NewPacketConn(hostSocket), nil, &mdns.Config{
		LocalNames: []string{cfg.Hostname + ".local"},
	})
	if err != nil {
		hostSocket.Close()
		return nil, streamerr.Wrap(streamerr.Transport, "discovery.New.hostConn", ErrDiscoveryUnavailable)
	}

	sdSocket, err := net.ListenUDP("udp4", group)
	if err != nil {
		hostConn.Close()
		return nil, streamerr.Wrap(streamerr.Transport, "discovery.New.sdSocket", ErrDiscoveryUnavailable)
	}

	r := &Responder{
		cfg:      cfg,
		logger:   cfg.Logger,
		hostConn: hostConn,
		sdSocket: ipv4.NewPacketConn(sdSocket),
		sdGroup:  group,
	}
	if err := r.joinAllInterfaces(); err != nil {
		r.Close()
		return nil, streamerr.Wrap(streamerr.Transport, "discovery.New.join", ErrDiscoveryUnavailable)
	}
	return r, nil
}

func (r *Responder) joinAllInterfaces() error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	joined := map[string]struct{}{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := r.sdSocket.JoinGroup(&iface, r.sdGroup); err == nil {
			joined[iface.Name] = struct{}{}
		}
	}
	r.mu.Lock()
	r.lastIfaces = joined
	r.mu.Unlock()
	return nil
}

// Start begins the read loop that answers queries and the background
// re-announce/interface-watch ticker. It returns once both goroutines are
// running; Close stops them.
func (r *Responder) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.readLoop(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.announceLoop(ctx)
	}()

	if err := r.sendAnnounce(ttlAlive); err != nil {
		r.logger.Warnf("discovery: initial announce failed: %v", err)
	}
}

// Close sends a goodbye record and releases both sockets.
func (r *Responder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.cancel != nil {
		if err := r.sendAnnounce(ttlGoodbye); err != nil {
			r.logger.Warnf("discovery: goodbye announce failed: %v", err)
		}
		r.cancel()
		r.wg.Wait()
	}

	var errs []error
	if r.hostConn != nil {
		if err := r.hostConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.sdSocket != nil {
		if err := r.sdSocket.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// announceLoop re-sends the full record set on a fixed interval and
// immediately after detecting an interface set change, per Section 4.1's
// "re-announces on network interface change".
func (r *Responder) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReannounceInterval)
	defer ticker.Stop()

	watch := time.NewTicker(5 * time.Second)
	defer watch.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sendAnnounce(ttlAlive); err != nil {
				r.logger.Warnf("discovery: periodic announce failed: %v", err)
			}
		case <-watch.C:
			if r.interfacesChanged() {
				_ = r.joinAllInterfaces()
				if err := r.sendAnnounce(ttlAlive); err != nil {
					r.logger.Warnf("discovery: re-announce after interface change failed: %v", err)
				}
			}
		}
	}
}

func (r *Responder) interfacesChanged() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	current := map[string]struct{}{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagMulticast != 0 {
			current[iface.Name] = struct{}{}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(current) != len(r.lastIfaces) {
		return true
	}
	for name := range current {
		if _, ok := r.lastIfaces[name]; !ok {
			return true
		}
	}
	return false
}

// readLoop answers incoming PTR/SRV/TXT/A queries that match this
// instance, fulfilling the "answers probes within one round-trip"
// contract. Anything that doesn't parse as a question we care about is
// ignored, matching a responder's duty to stay silent on unrelated
// traffic.
func (r *Responder) readLoop(ctx context.Context) {
	buf := make([]byte, 9000)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = r.sdSocket.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, _, err := r.sdSocket.ReadFrom(buf)
		if err != nil {
			continue
		}
		if !queryMatchesService(buf[:n], r.serviceFQDN(), r.hostFQDN()) {
			continue
		}
		if err := r.sendAnnounce(ttlAlive); err != nil {
			r.logger.Warnf("discovery: answer failed: %v", err)
		}
	}
}

func (r *Responder) serviceFQDN() string { return ServiceType + ".local" }
func (r *Responder) hostFQDN() string    { return r.cfg.Hostname + ".local" }
func (r *Responder) instanceFQDN() string {
	return escapeInstance(r.cfg.InstanceName) + "." + r.serviceFQDN()
}

func (r *Responder) sendAnnounce(ttl uint32) error {
	msg, err := buildAnnounce(announceRecords{
		serviceFQDN:  r.serviceFQDN(),
		instanceFQDN: r.instanceFQDN(),
		hostFQDN:     r.hostFQDN(),
		port:         r.cfg.Port,
		txt: []string{
			"hostname=" + r.cfg.Hostname,
			"protoversion=" + ProtocolVersion,
			"uuid=" + r.cfg.HostID.String(),
			"maxclients=" + strconv.Itoa(r.cfg.MaxClients),
			"codecs=" + strings.Join(r.cfg.Codecs, ","),
		},
		ttl: ttl,
	})
	if err != nil {
		return err
	}
	_, err = r.sdSocket.WriteTo(msg, nil, r.sdGroup)
	return err
}
