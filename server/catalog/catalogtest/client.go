// Package catalogtest provides an in-memory catalog backend for tests.
package catalogtest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/paths"
)

// UpdateFault tells the client how to misbehave on one conditional update
type UpdateFault struct {
	// Skip leaves the table untouched
	Skip bool
	// Err is returned after the update was applied (or skipped)
	Err error
}

type entry struct {
	version int
	doc     []byte
}

// Client is a shared.Client keeping every table in memory. Tokens are "v{N}".
type Client struct {
	kind      config.CatalogType
	warehouse string

	mu         sync.Mutex
	tables     map[string]*entry
	ids        map[string]shared.TableIdentifier
	namespaces map[string]map[string]string
	updates    int
	closed     bool

	// UpdateHook runs before the n-th conditional update, counted from 1
	UpdateHook func(n int, id shared.TableIdentifier, base shared.Token) UpdateFault
	// FetchHook can fail reads
	FetchHook func(id shared.TableIdentifier) error
}

var _ shared.Client = (*Client)(nil)

// New creates an empty client reporting the given backend kind
func New(kind config.CatalogType, warehouse string) *Client {
	return &Client{
		kind:       kind,
		warehouse:  warehouse,
		tables:     make(map[string]*entry),
		ids:        make(map[string]shared.TableIdentifier),
		namespaces: make(map[string]map[string]string),
	}
}

func token(version int) shared.Token {
	return shared.Token(fmt.Sprintf("v%d", version))
}

func (c *Client) Kind() config.CatalogType { return c.kind }

// Put installs doc as a new version of the table without any check
func (c *Client) Put(id shared.TableIdentifier, doc []byte) shared.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[id.Key()]
	if !ok {
		e = &entry{}
		c.tables[id.Key()] = e
		c.ids[id.Key()] = id
	}
	e.version++
	e.doc = append([]byte(nil), doc...)
	return token(e.version)
}

// Updates returns the number of conditional updates received
func (c *Client) Updates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates
}

// Closed reports whether Close was called
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) CurrentToken(ctx context.Context, id shared.TableIdentifier) (shared.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[id.Key()]
	if !ok {
		return "", shared.NewTableNotFound(c.kind, id, nil)
	}
	return token(e.version), nil
}

func (c *Client) FetchMetadataDocument(ctx context.Context, id shared.TableIdentifier) (*shared.Document, error) {
	if c.FetchHook != nil {
		if err := c.FetchHook(id); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[id.Key()]
	if !ok {
		return nil, shared.NewTableNotFound(c.kind, id, nil)
	}
	return &shared.Document{
		Token:    token(e.version),
		Location: fmt.Sprintf("mem://%s/%d", id.Key(), e.version),
		Bytes:    append([]byte(nil), e.doc...),
	}, nil
}

func (c *Client) ConditionalUpdate(ctx context.Context, id shared.TableIdentifier, base shared.Token, doc []byte) (shared.UpdateResult, error) {
	c.mu.Lock()
	c.updates++
	n := c.updates
	c.mu.Unlock()

	var fault UpdateFault
	if c.UpdateHook != nil {
		fault = c.UpdateHook(n, id, base)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[id.Key()]
	if !ok {
		return shared.UpdateResult{}, shared.NewTableNotFound(c.kind, id, nil)
	}
	if fault.Skip {
		return shared.UpdateResult{}, fault.Err
	}
	if token(e.version) != base {
		return shared.UpdateResult{Accepted: false, Current: token(e.version)}, fault.Err
	}
	e.version++
	e.doc = append([]byte(nil), doc...)
	res := shared.UpdateResult{
		Accepted: true,
		Current:  token(e.version),
		Location: fmt.Sprintf("mem://%s/%d", id.Key(), e.version),
	}
	if fault.Err != nil {
		return shared.UpdateResult{}, fault.Err
	}
	return res, nil
}

func (c *Client) ListNamespace(ctx context.Context, ns shared.Namespace) ([]shared.TableIdentifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []shared.TableIdentifier
	for key, id := range c.ids {
		if _, ok := c.tables[key]; ok && id.Namespace.Equal(ns) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Client) CreateNamespace(ctx context.Context, ns shared.Namespace, props map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.namespaces[ns.String()]; ok {
		return shared.NewAlreadyExists(c.kind, ns.String(), nil)
	}
	c.namespaces[ns.String()] = props
	return nil
}

func (c *Client) CreateTable(ctx context.Context, id shared.TableIdentifier, doc []byte) (*shared.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[id.Key()]; ok {
		return nil, shared.NewAlreadyExists(c.kind, id.String(), nil)
	}
	c.tables[id.Key()] = &entry{version: 1, doc: append([]byte(nil), doc...)}
	c.ids[id.Key()] = id
	return &shared.Document{
		Token:    token(1),
		Location: fmt.Sprintf("mem://%s/1", id.Key()),
		Bytes:    append([]byte(nil), doc...),
	}, nil
}

func (c *Client) DropTable(ctx context.Context, id shared.TableIdentifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[id.Key()]; !ok {
		return shared.NewTableNotFound(c.kind, id, nil)
	}
	delete(c.tables, id.Key())
	delete(c.ids, id.Key())
	return nil
}

func (c *Client) DefaultLocation(id shared.TableIdentifier, tableUUID string) string {
	return paths.Join(c.warehouse, append(slices.Clone([]string(id.Namespace)), id.Name)...)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
