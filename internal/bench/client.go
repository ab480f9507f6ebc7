package bench

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/streamconn"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// Client drives a request load against a set of bench servers. Every worker
// owns one connection to each server.
type Client struct {
	cfg     ClientConfig
	flags   streamconn.Flags
	conns   [][]*streamconn.Conn // [worker][server]
	limiter *rate.Limiter

	// shard id -> server index learned from redirects
	shardOwners sync.Map
}

// NewClient dials ConnsPerAddr connections to every server
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     *cfg,
		flags:   flagsOf(cfg.Poll),
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	if cfg.TargetOps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.TargetOps), cfg.ConnsPerAddr)
	}

	c.conns = make([][]*streamconn.Conn, cfg.ConnsPerAddr)
	for w := range c.conns {
		c.conns[w] = make([]*streamconn.Conn, len(cfg.Addrs))
		for i, addr := range cfg.Addrs {
			conn, err := streamconn.DialContext(ctx, &c.cfg.Dial, "", addr)
			if err != nil {
				c.Close()
				return nil, err
			}
			c.conns[w][i] = conn
		}
	}
	klog.V(1).Infof("dialed %d connections to each of %d servers", cfg.ConnsPerAddr, len(cfg.Addrs))
	return c, nil
}

// Close closes every connection
func (c *Client) Close() {
	for _, conns := range c.conns {
		for _, conn := range conns {
			if conn != nil {
				conn.Close()
			}
		}
	}
}

func (c *Client) ownerOf(shard uint32) int {
	if owner, ok := c.shardOwners.Load(shard); ok {
		return owner.(int)
	}
	return 0
}

// Get sends one request on worker w's connections and updates the shard cache
// when the server redirects.
func (c *Client) Get(w int, req *Request, resp *Response) error {
	conn := c.conns[w][c.ownerOf(req.ShardID)]
	if err := WriteRequest(conn, req, c.flags); err != nil {
		return err
	}
	if err := ReadResponse(conn, resp, c.flags); err != nil {
		return err
	}

	if resp.Redirect != 0 {
		owner := int(resp.Redirect) - 1
		if owner >= len(c.cfg.Addrs) {
			return errors.Errorf("redirect to unknown server %d", resp.Redirect)
		}
		c.shardOwners.Store(req.ShardID, owner)
	}
	return nil
}

// Run issues requests for Warmup+Duration and returns the samples of the
// Duration window.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	start := time.Now()
	measureStart := start.Add(c.cfg.Warmup)
	deadline := measureStart.Add(c.cfg.Duration)

	perWorker := make([][]Sample, len(c.conns))
	for w := range c.conns {
		w := w
		g.Go(func() error {
			samples, err := c.worker(gctx, w, measureStart, deadline)
			perWorker[w] = samples
			return err
		})
	}
	err := g.Wait()

	var samples []Sample
	for _, s := range perWorker {
		samples = append(samples, s...)
	}
	elapsed := time.Since(measureStart)
	if elapsed > c.cfg.Duration {
		elapsed = c.cfg.Duration
	}
	res := NewResult(samples, elapsed)
	if err != nil {
		return res, err
	}

	if c.cfg.TimeSeriesFile != "" {
		if err := c.writeTimeSeries(res, measureStart); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Client) worker(ctx context.Context, w int, measureStart, deadline time.Time) ([]Sample, error) {
	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)))
	var samples []Sample
	var req Request
	var resp Response
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return samples, nil
			}
			return samples, err
		}

		RandomKey(r, &req.Key)
		req.ShardID = ShardOf(&req.Key, c.cfg.PowerShards)

		t0 := time.Now()
		if !t0.Before(deadline) {
			return samples, nil
		}
		if err := c.Get(w, &req, &resp); err != nil {
			return samples, errors.Wrapf(err, "worker %d", w)
		}
		if !t0.Before(measureStart) {
			samples = append(samples, Sample{Start: t0.Sub(measureStart), Latency: time.Since(t0)})
		}
	}
}

func (c *Client) writeTimeSeries(res *Result, start time.Time) error {
	f, err := os.Create(c.cfg.TimeSeriesFile)
	if err != nil {
		return errors.Wrap(err, "create timeseries file")
	}
	defer f.Close()

	points := res.TimeSeries(c.cfg.TimeSeriesInterval, c.cfg.TimeSeriesNth)
	if err := WriteTimeSeries(f, start, points); err != nil {
		return errors.Wrap(err, "write timeseries")
	}
	klog.V(1).Infof("wrote %d time series points to %s", len(points), c.cfg.TimeSeriesFile)
	return nil
}
