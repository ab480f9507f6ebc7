package bench

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/streamconn"
	"k8s.io/klog/v2"
)

// Server answers bench requests for the shards it owns and redirects the rest
type Server struct {
	cfg   ServerConfig
	flags streamconn.Flags
	table *Table
	ln    *streamconn.Listener

	mu    sync.Mutex
	conns map[*streamconn.Conn]struct{}
	wg    sync.WaitGroup

	handled uint64
}

// NewServer populates the table and starts listening
func NewServer(cfg *ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ln, err := streamconn.ListenConfig(context.Background(), &cfg.Dial, cfg.Listen, 0)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:   *cfg,
		flags: flagsOf(cfg.Poll),
		table: NewTable(),
		ln:    ln,
		conns: map[*streamconn.Conn]struct{}{},
	}
	s.table.Populate(rand.New(rand.NewSource(int64(cfg.Index)+1)), cfg.Pairs)
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Table() *Table {
	return s.table
}

// Handled returns the number of requests answered so far
func (s *Server) Handled() uint64 {
	return atomic.LoadUint64(&s.handled)
}

// Serve accepts connections until ctx is done, then aborts the remaining
// connections and waits for their goroutines.
func (s *Server) Serve(ctx context.Context) error {
	klog.Infof("bench server %d listening on %s with %d pairs", s.cfg.Index, s.Addr(), s.table.Len())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.ln.Shutdown()
		case <-stop:
		}
	}()
	if s.cfg.ReportInterval > 0 {
		go s.report(stop)
	}

	var err error
	for {
		var conn *streamconn.Conn
		conn, err = s.ln.Accept()
		if err != nil {
			break
		}

		klog.V(2).Infof("%s connected", conn.RemoteAddr())
		s.track(conn, true)
		s.wg.Add(1)
		go s.serveConn(conn)
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Abort()
	}
	s.mu.Unlock()
	s.wg.Wait()

	if errors.Cause(err) == streamconn.ErrListenerClosed {
		return nil
	}
	return err
}

func (s *Server) track(conn *streamconn.Conn, add bool) {
	s.mu.Lock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
}

func (s *Server) serveConn(conn *streamconn.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.track(conn, false)

	var req Request
	var resp Response
	for {
		if err := ReadRequest(conn, &req, s.flags); err != nil {
			if !streamconn.IsNetworkError(err) {
				klog.Warningf("%s: read request: %v", conn.RemoteAddr(), err)
			}
			break
		}

		s.handle(&req, &resp)
		if err := WriteResponse(conn, &resp, s.flags); err != nil {
			if !streamconn.IsNetworkError(err) {
				klog.Warningf("%s: write response: %v", conn.RemoteAddr(), err)
			}
			break
		}
		atomic.AddUint64(&s.handled, 1)
	}
	klog.V(2).Infof("%s disconnected", conn.RemoteAddr())
}

func (s *Server) handle(req *Request, resp *Response) {
	*resp = Response{}
	if owner := s.owner(req.ShardID); owner != s.cfg.Index {
		resp.Redirect = uint32(owner) + 1
		return
	}
	resp.Val, resp.Found = s.table.Get(&req.Key)
}

func (s *Server) owner(shard uint32) int {
	if len(s.cfg.Peers) <= 1 {
		return s.cfg.Index
	}
	return int(shard % uint32(len(s.cfg.Peers)))
}

func (s *Server) report(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.ReportInterval)
	defer ticker.Stop()

	last := s.Handled()
	for {
		select {
		case <-ticker.C:
			cur := s.Handled()
			klog.Infof("handling %.0f requests per second", float64(cur-last)/s.cfg.ReportInterval.Seconds())
			last = cur
		case <-stop:
			return
		}
	}
}
