package broker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Client dials a local broker over a Unix domain socket and carries out
// the register/discover/unregister dialogue (spec §4.6). Connection
// handling follows the teacher's ipc.Publisher: dial best-effort at
// construction, redial lazily on the next call if the connection was
// never established or has dropped.
type Client struct {
	path string
	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
	next uint64
}

// NewClient returns a Client bound to path. Dialing is best-effort —
// the broker process may not be up yet, and the first real request
// will retry.
func NewClient(path string) *Client {
	c := &Client{path: path}
	c.dial()
	return c
}

func (c *Client) dial() {
	conn, err := net.Dial("unix", c.path)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.conn = conn
	c.rd = bufio.NewReader(conn)
	c.mu.Unlock()
}

// Register binds name to a freshly created channel's geometry and
// returns the secret consumers must present to FindConsumer.
func (c *Client) Register(name string, slotCount, slotSize, flexSize uint64, schemaValidation bool, flexHash, dataHash [32]byte, secret uint64) (Binding, error) {
	req := RegisterRequest{
		Name:             name,
		SlotCount:        slotCount,
		SlotSize:         slotSize,
		FlexibleZoneSize: flexSize,
		SchemaValidation: schemaValidation,
		FlexZoneHash:     flexHash,
		DataBlockHash:    dataHash,
		Secret:           secret,
	}
	return c.roundTrip(TypeRegister, req)
}

// Discover resolves an existing channel's binding by name.
func (c *Client) Discover(name string) (Binding, error) {
	return c.roundTrip(TypeDiscover, DiscoverRequest{Name: name})
}

// Unregister removes name's binding from the broker.
func (c *Client) Unregister(name string) error {
	_, err := c.roundTrip(TypeUnregister, UnregisterRequest{Name: name})
	return err
}

func (c *Client) roundTrip(msgType string, payload any) (Binding, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Binding{}, fmt.Errorf("broker: encode %s: %w", msgType, err)
	}
	id := atomic.AddUint64(&c.next, 1)
	frame, err := json.Marshal(Envelope{ID: id, Type: msgType, Payload: raw})
	if err != nil {
		return Binding{}, fmt.Errorf("broker: encode envelope: %w", err)
	}
	frame = append(frame, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if c.conn == nil {
			c.mu.Unlock()
			time.Sleep(200 * time.Millisecond)
			c.mu.Lock()
			conn, err := net.Dial("unix", c.path)
			if err != nil {
				lastErr = err
				continue
			}
			c.conn = conn
			c.rd = bufio.NewReader(conn)
		}

		if err := c.conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
			c.resetLocked()
			lastErr = err
			continue
		}
		if _, err := c.conn.Write(frame); err != nil {
			c.resetLocked()
			lastErr = err
			continue
		}

		line, err := c.rd.ReadBytes('\n')
		if err != nil {
			c.resetLocked()
			lastErr = err
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			lastErr = fmt.Errorf("broker: malformed reply: %w", err)
			continue
		}
		if env.ID != id {
			lastErr = fmt.Errorf("broker: reply id %d does not match request id %d", env.ID, id)
			continue
		}

		var reply Reply
		if err := json.Unmarshal(env.Payload, &reply); err != nil {
			lastErr = fmt.Errorf("broker: malformed reply payload: %w", err)
			continue
		}
		if reply.Status != StatusOK {
			return Binding{}, fmt.Errorf("broker: %s: %s", msgType, reply.Error)
		}
		if len(reply.Binding) == 0 {
			return Binding{}, nil
		}
		var b Binding
		if err := json.Unmarshal(reply.Binding, &b); err != nil {
			return Binding{}, fmt.Errorf("broker: malformed binding: %w", err)
		}
		return b, nil
	}
	return Binding{}, fmt.Errorf("broker: %s failed after retries: %w", msgType, lastErr)
}

// resetLocked discards the current connection; caller holds c.mu.
func (c *Client) resetLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.rd = nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rd = nil
	return err
}
