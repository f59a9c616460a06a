package scard

import "github.com/rdpengine/core/internal/engineerr"

// contextInternal is the per-Context state: connected card handles and the
// Windows-side key/value cache that SCARD_IOCTL_READCACHEW/WRITECACHEW
// persist against (MS-RDPESC 3.1.4).
type contextInternal struct {
	handles map[uint32]*card
	nextID  uint32
	cache   map[string][]byte
}

func newContextInternal() *contextInternal {
	return &contextInternal{
		handles: make(map[uint32]*card),
		nextID:  1,
		cache:   make(map[string][]byte),
	}
}

func (c *contextInternal) connect(ctx ndrContext, pivCard *card) ndrHandle {
	id := c.nextID
	c.nextID++
	c.handles[id] = pivCard
	return newNDRHandle(ctx, id)
}

func (c *contextInternal) get(handleID uint32) (*card, bool) {
	h, ok := c.handles[handleID]
	return h, ok
}

func (c *contextInternal) disconnect(handleID uint32) {
	delete(c.handles, handleID)
}

func (c *contextInternal) cacheRead(key string) ([]byte, bool) {
	v, ok := c.cache[key]
	return v, ok
}

func (c *contextInternal) cacheWrite(key string, value []byte) {
	c.cache[key] = value
}

// contexts tracks every established SCARD_IOCTL_ESTABLISHCONTEXT handle
// for the lifetime of a Backend.
type contexts struct {
	byID   map[uint32]*contextInternal
	nextID uint32
}

func newContexts() *contexts {
	return &contexts{byID: make(map[uint32]*contextInternal), nextID: 1}
}

func (c *contexts) establish() ndrContext {
	id := c.nextID
	c.nextID++
	c.byID[id] = newContextInternal()
	return newNDRContext(id)
}

func (c *contexts) get(id uint32) (*contextInternal, error) {
	ctx, ok := c.byID[id]
	if !ok {
		return nil, engineerr.New(engineerr.KindProtocol, "scard: unknown context id")
	}
	return ctx, nil
}

func (c *contexts) release(id uint32) {
	delete(c.byID, id)
}
