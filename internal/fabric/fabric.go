package fabric

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/coresight-tools/tracehub/internal/component"
)

// Stats is the fabric's live counters, read by the interval reporter.
type Stats struct {
	ClientsConnected atomic.Int64
	ClientsDropped   atomic.Int64
	BytesWritten     atomic.Uint64
}

// Fabric is one ring plus the set of clients currently draining it. The
// orchestrator creates one Fabric for an undemuxed byte stream, or one
// per OFLOW tag / TPIU stream-id when a Manager is in use.
type Fabric struct {
	ring *Ring
	Stats

	mu      sync.Mutex
	clients map[*client]struct{}

	log component.AttachPt[component.ErrorLog]
}

func New() *Fabric {
	f := &Fabric{
		ring:    NewRing(),
		clients: make(map[*client]struct{}),
	}
	f.log = *component.NewAttachPt[component.ErrorLog]()
	return f
}

func (f *Fabric) AttachLog(l component.ErrorLog) component.Err { return f.log.Attach(l) }

// maxBehind is the backlog at which a client is considered too slow to
// keep: one block short of the whole ring, so the producer always has a
// block of headroom before it would overwrite unread bytes.
const maxBehind = (RingBlocks - 1) * TransferSize

// Write appends p to the ring and wakes every connected client. Clients
// whose unread backlog now exceeds the ring's headroom are disconnected
// here, on the producer side, so a consumer stuck mid-write can never
// stall or corrupt anyone else.
func (f *Fabric) Write(p []byte) {
	f.ring.Write(p)
	f.BytesWritten.Add(uint64(len(p)))

	var drop []*client
	f.mu.Lock()
	for c := range f.clients {
		if f.ring.Avail(c.rp.Load()) > maxBehind {
			drop = append(drop, c)
			continue
		}
		select {
		case c.avail <- struct{}{}:
		default:
		}
	}
	f.mu.Unlock()

	for _, c := range drop {
		if f.removeClient(c) {
			f.ClientsDropped.Add(1)
			if f.log.HasAttachedAndEnabled() {
				f.log.First().LogMessage(component.SevWarn, "client fell behind the ring, disconnecting")
			}
		}
	}
}

// client is a connected fan-out consumer: its own read pointer into the
// shared ring, and a buffered "data available" channel standing in for
// a per-client condition variable. rp is atomic because the producer
// reads it for the backlog check while the drain goroutine advances it.
type client struct {
	conn  net.Conn
	rp    atomic.Uint64
	avail chan struct{}
}

// Serve accepts connections on ln until ctx is cancelled, handing each
// one its own drain goroutine starting at the producer's current write
// position (new clients see only new data).
func (f *Fabric) Serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		f.addClient(conn)
	}
}

// Attach hands the fabric an already-established connection (used for
// transports a net.Listener doesn't cover, and by tests).
func (f *Fabric) Attach(conn net.Conn) {
	f.addClient(conn)
}

func (f *Fabric) addClient(conn net.Conn) {
	c := &client{conn: conn, avail: make(chan struct{}, 1)}
	c.rp.Store(f.ring.WritePos())
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	f.ClientsConnected.Add(1)
	go f.drain(c)
}

// removeClient unlinks c and closes its connection. It is idempotent:
// both the producer's backpressure check and the drain goroutine's
// write-error path call it, and only the first caller wins. Closing the
// avail channel ends the drain loop; closing the connection unblocks a
// drain goroutine stuck inside conn.Write.
func (f *Fabric) removeClient(c *client) bool {
	f.mu.Lock()
	_, linked := f.clients[c]
	if linked {
		delete(f.clients, c)
		close(c.avail)
	}
	f.mu.Unlock()
	if linked {
		c.conn.Close()
	}
	return linked
}

// Close disconnects every client. Used at shutdown, after the producer
// has stopped writing.
func (f *Fabric) Close() {
	f.mu.Lock()
	clients := make([]*client, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()
	for _, c := range clients {
		f.removeClient(c)
	}
}

// drain is the per-client goroutine: wait for data, write the
// contiguous unread backlog to the socket, repeat. Backlog can only
// grow inside Write, which already drops a too-slow client, so no
// backlog check is needed here.
func (f *Fabric) drain(c *client) {
	for range c.avail {
		for {
			rp := c.rp.Load()
			avail := f.ring.Avail(rp)
			if avail == 0 {
				break
			}
			if avail > RingSize {
				// a stale wakeup after the producer already dropped this
				// client: the backlog has outrun the ring entirely.
				f.removeClient(c)
				return
			}
			data := f.ring.Read(rp, int(avail))
			if _, err := c.conn.Write(data); err != nil {
				f.removeClient(c)
				return
			}
			c.rp.Store(rp + uint64(len(data)))
		}
	}
}
