package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/frame"
	"github.com/c360/semlive/live"
	"github.com/c360/semlive/pkg/buffer"
)

// conn is one viewer connection.
type conn struct {
	id string
	gw *Gateway
	ws *websocket.Conn

	out    buffer.Buffer[Reply]
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[live.Address]*live.Stream

	wg        sync.WaitGroup // forwarders and in-flight requests
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(g *Gateway, ws *websocket.Conn) (*conn, error) {
	out, err := buffer.NewCircularBuffer[Reply](g.queueSize,
		buffer.WithOverflowPolicy[Reply](buffer.DropOldest),
		buffer.WithDropCallback[Reply](func(Reply) { g.metrics.dropped() }),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		id:     newConnID(),
		gw:     g,
		ws:     ws,
		out:    out,
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[live.Address]*live.Stream),
	}, nil
}

// serve runs the read loop on the calling goroutine and the writer beside it.
func (c *conn) serve() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop()
	c.close()
	<-writerDone
	c.wg.Wait()
	c.gw.remove(c)
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxRequestSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.gw.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.gw.readTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.gw.metrics.error("read")
				c.gw.logger.Debug("Viewer read failed", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.gw.readTimeout))

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.enqueue(errorReply(req, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "Gateway", "readLoop", "decode request")))
			continue
		}
		c.handle(req)
	}
}

func (c *conn) handle(req Request) {
	addr, err := live.ParseAddress(req.Channel)
	if err != nil {
		c.gw.metrics.request(req.Type, err)
		c.enqueue(errorReply(req, err))
		return
	}

	switch req.Type {
	case RequestSubscribe:
		c.subscribe(req, addr)
	case RequestUnsubscribe:
		err := c.unsubscribe(addr)
		c.reply(req, err)
	case RequestPresence:
		c.async(func(ctx context.Context) {
			ch := c.gw.source.GetChannel(addr)
			defer ch.Hold()()
			res, err := ch.Presence(ctx)
			c.gw.metrics.request(req.Type, err)
			if err != nil {
				c.enqueue(errorReply(req, err))
				return
			}
			c.enqueue(Reply{Type: ReplyPresence, ID: req.ID, Channel: req.Channel, Data: res,
				Timestamp: time.Now().UnixMilli()})
		})
	case RequestPublish:
		c.async(func(ctx context.Context) {
			ch := c.gw.source.GetChannel(addr)
			defer ch.Hold()()
			err := ch.Publish(ctx, req.Data)
			c.reply(req, err)
		})
	default:
		err := errors.WrapInvalid(fmt.Errorf("unknown request type %q", req.Type),
			"Gateway", "handle", "dispatch request")
		c.gw.metrics.request("unknown", err)
		c.enqueue(errorReply(req, err))
	}
}

// reply acks req or reports err.
func (c *conn) reply(req Request, err error) {
	c.gw.metrics.request(req.Type, err)
	if err != nil {
		c.enqueue(errorReply(req, err))
		return
	}
	c.enqueue(Reply{Type: ReplyAck, ID: req.ID, Channel: req.Channel, Timestamp: time.Now().UnixMilli()})
}

// async runs fn off the read loop, bounded by the request timeout.
func (c *conn) async(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.gw.requestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *conn) subscribe(req Request, addr live.Address) {
	c.mu.Lock()
	if _, ok := c.subs[addr]; ok {
		c.mu.Unlock()
		c.reply(req, nil)
		return
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	stream := c.gw.source.GetChannel(addr).Stream()
	c.subs[addr] = stream
	c.wg.Add(1)
	c.mu.Unlock()

	c.reply(req, nil)
	if req.Frames {
		go c.forwardFrames(addr, stream, req.Fields)
		return
	}
	go c.forward(addr, stream)
}

// forward relays one channel stream until it ends or is closed.
func (c *conn) forward(addr live.Address, stream *live.Stream) {
	defer c.wg.Done()
	defer c.drop(addr, stream)
	for ev := range stream.Events() {
		c.enqueue(eventReply(addr, ev))
	}
}

// forwardFrames relays merged snapshots and status changes of one stream.
func (c *conn) forwardFrames(addr live.Address, stream *live.Stream, fields []string) {
	defer c.wg.Done()
	defer c.drop(addr, stream)

	buf, err := frame.NewBuffer(frame.WithMaxLength(c.gw.maxFrameLength), frame.WithFilter(fields...))
	if err != nil {
		stream.Close()
		c.enqueue(errorReply(Request{Channel: addr.String()}, err))
		return
	}
	reader, err := live.NewFrameReader(stream,
		live.WithInterval(c.gw.frameInterval),
		live.WithFrameBuffer(buf),
		live.WithReaderLogger(c.gw.logger),
		live.WithReaderMetrics(c.gw.core),
	)
	if err != nil {
		stream.Close()
		c.enqueue(errorReply(Request{Channel: addr.String()}, err))
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reader.Run(c.ctx)
	}()

	frames, statuses := reader.Frames(), reader.Statuses()
	for frames != nil || statuses != nil {
		select {
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			c.enqueue(Reply{Type: ReplyFrame, Channel: addr.String(), Data: f, Timestamp: time.Now().UnixMilli()})
		case ev, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			c.enqueue(eventReply(addr, ev))
		}
	}
	<-done
}

// drop forgets stream if it is still the subscription for addr.
func (c *conn) drop(addr live.Address, stream *live.Stream) {
	c.mu.Lock()
	if cur, ok := c.subs[addr]; ok && cur == stream {
		delete(c.subs, addr)
	}
	c.mu.Unlock()
}

func (c *conn) unsubscribe(addr live.Address) error {
	c.mu.Lock()
	stream, ok := c.subs[addr]
	delete(c.subs, addr)
	c.mu.Unlock()

	if !ok {
		return errors.WrapInvalid(fmt.Errorf("not subscribed to %s", addr),
			"Gateway", "unsubscribe", "lookup subscription")
	}
	stream.Close()
	return nil
}

// enqueue queues r for the writer. A full queue drops its oldest reply.
func (c *conn) enqueue(r Reply) {
	if err := c.out.Write(r); err != nil {
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.gw.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.gw.metrics.error("ping")
				c.cancelAndClose()
				return
			}
		case <-c.notify:
			for _, r := range c.out.ReadBatch(c.gw.queueSize) {
				data, err := json.Marshal(r)
				if err != nil {
					c.gw.logger.Warn("Dropping unencodable reply", "conn", c.id, "type", r.Type, "error", err)
					continue
				}
				if err := c.write(websocket.TextMessage, data); err != nil {
					c.gw.metrics.error("write")
					c.cancelAndClose()
					return
				}
				c.gw.metrics.sent(r.Type)
			}
		}
	}
}

// write serializes frames; gorilla connections allow one concurrent writer.
func (c *conn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.writeTimeout))
	return c.ws.WriteMessage(kind, data)
}

// goAway tells the viewer the server is leaving and closes the socket, which
// ends the read loop.
func (c *conn) goAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.cancelAndClose()
}

func (c *conn) cancelAndClose() {
	c.cancel()
	_ = c.ws.Close()
}

// close detaches every subscription. Channels nobody else watches are released
// by the registry once their grace period passes.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		streams := make([]*live.Stream, 0, len(c.subs))
		for _, s := range c.subs {
			streams = append(streams, s)
		}
		c.subs = make(map[live.Address]*live.Stream)
		c.mu.Unlock()

		for _, s := range streams {
			s.Close()
		}
		_ = c.out.Close()
		_ = c.ws.Close()
	})
}
