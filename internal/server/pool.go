package server

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/registry"
)

// Pool owns the dev servers of a view command. Each build target gets its
// own server on the lowest free port at or above the base port, and keeps
// that port for as long as the target exists.
type Pool struct {
	host     string
	basePort int
	logger   logging.Logger
	hub      *Hub

	mutex   sync.Mutex
	servers []*DevServer
	used    map[int]struct{}
	paused  bool
}

// NewPool creates an empty pool.
func NewPool(host string, basePort int, logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")
	return &Pool{
		host:     host,
		basePort: basePort,
		logger:   logger,
		hub:      NewHub(logger),
		used:     make(map[int]struct{}),
	}
}

// Hub returns the live reload hub shared by the pool's servers.
func (p *Pool) Hub() *Hub {
	return p.hub
}

// Servers returns the servers in creation order.
func (p *Pool) Servers() []*DevServer {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]*DevServer, len(p.servers))
	copy(out, p.servers)
	return out
}

// ServersFor returns the servers belonging to script.
func (p *Pool) ServersFor(script string) []*DevServer {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.serversFor(script)
}

func (p *Pool) serversFor(script string) []*DevServer {
	var out []*DevServer
	for _, s := range p.servers {
		if s.Script == script {
			out = append(out, s)
		}
	}
	return out
}

// Ports returns the ports in use, in server order.
func (p *Pool) Ports() []int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	ports := make([]int, 0, len(p.servers))
	for _, s := range p.servers {
		ports = append(ports, s.Port)
	}
	return ports
}

// allocate binds the lowest port at or above the base that no server of the
// pool holds. Ports another process holds are skipped. A base port of 0 lets
// the OS choose.
func (p *Pool) allocate() (net.Listener, error) {
	if p.basePort == 0 {
		return net.Listen("tcp", net.JoinHostPort(p.host, "0"))
	}

	var lastErr error
	for port := p.basePort; port <= 65535; port++ {
		if _, taken := p.used[port]; taken {
			continue
		}
		addr := net.JoinHostPort(p.host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			lastErr = errors.ErrPortUnavailable(addr, err)
			p.logger.Warn(context.Background(), lastErr, "Port unavailable, trying next", "port", port)
			continue
		}
		return ln, nil
	}
	return nil, lastErr
}

func (p *Pool) add(script string) (*DevServer, error) {
	ln, err := p.allocate()
	if err != nil {
		return nil, err
	}
	s := newDevServer(p.host, ln, script, p.hub, p.logger)
	p.servers = append(p.servers, s)
	p.used[s.Port] = struct{}{}
	if p.paused {
		// Sync during a pause: keep the port, serve on Resume.
		s.Pause()
	}
	return s, nil
}

func (p *Pool) remove(s *DevServer) {
	s.Stop()
	delete(p.used, s.Port)
	for i, existing := range p.servers {
		if existing == s {
			p.servers = append(p.servers[:i], p.servers[i+1:]...)
			break
		}
	}
}

// Sync makes the script's servers match its targets. Servers of unchanged
// targets keep their ports. A server whose target vanished, including a
// placeholder error server, is handed to the next new target so its port
// survives; leftovers are stopped. Error mode is cleared.
func (p *Pool) Sync(script string, targets []registry.SiteRecord) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	byKey := make(map[string]*DevServer)
	var stale []*DevServer
	wanted := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		wanted[t.Key()] = struct{}{}
	}
	for _, s := range p.serversFor(script) {
		if _, ok := wanted[s.Key()]; ok {
			byKey[s.Key()] = s
		} else {
			stale = append(stale, s)
		}
	}

	for _, t := range targets {
		if s, ok := byKey[t.Key()]; ok {
			s.retarget(t.Key(), t.Output)
			s.ClearError()
			continue
		}

		if len(stale) > 0 {
			s := stale[0]
			stale = stale[1:]
			s.retarget(t.Key(), t.Output)
			s.ClearError()
			byKey[t.Key()] = s
			p.logger.Info(context.Background(), "Serving target", "url", s.URL(), "root", t.Output)
			continue
		}

		s, err := p.add(script)
		if err != nil {
			p.logger.Error(context.Background(), err, "No port available for target", "output", t.Output)
			continue
		}
		s.retarget(t.Key(), t.Output)
		byKey[t.Key()] = s
		p.logger.Info(context.Background(), "Serving target", "url", s.URL(), "root", t.Output)
	}

	for _, s := range stale {
		p.remove(s)
	}
}

// Fail puts every server of script into error mode. A script with no
// servers yet gets a placeholder so the failure is visible in the browser.
func (p *Pool) Fail(script, traceback string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	servers := p.serversFor(script)
	if len(servers) == 0 {
		s, err := p.add(script)
		if err != nil {
			p.logger.Error(context.Background(), err, "No port available for error page", "script", script)
			return
		}
		p.logger.Info(context.Background(), "Serving build error", "url", s.URL(), "script", script)
		servers = []*DevServer{s}
	}

	for _, s := range servers {
		s.SetError(traceback)
	}
}

// Drop stops the script's servers and frees only their ports.
func (p *Pool) Drop(script string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, s := range p.serversFor(script) {
		p.remove(s)
	}
}

// Pause stops serving while output is rewritten.
func (p *Pool) Pause() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.paused = true
	for _, s := range p.servers {
		s.Pause()
	}
}

// Resume serves again on the same ports and reloads connected browsers.
func (p *Pool) Resume() {
	p.mutex.Lock()
	p.paused = false
	for _, s := range p.servers {
		if err := s.Resume(); err != nil {
			p.logger.Error(context.Background(), err, "Dev server could not resume", "addr", s.Addr())
		}
	}
	p.mutex.Unlock()

	p.hub.Reload()
}

// StopAll stops every server and disconnects browsers.
func (p *Pool) StopAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, s := range p.servers {
		s.Stop()
	}
	p.servers = nil
	p.used = make(map[int]struct{})
	p.hub.Close()
}

// Len returns the number of servers.
func (p *Pool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.servers)
}
