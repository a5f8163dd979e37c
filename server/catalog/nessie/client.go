// Package nessie implements a catalog backend over a Nessie server. Tables
// are ICEBERG_TABLE contents pointing at metadata files in the warehouse;
// the token is the branch commit hash the table was read at.
package nessie

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/paths"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const kind = config.TypeNessie

// Client talks to the Nessie REST API v2
type Client struct {
	baseURL string
	ref     string
	token   string
	http    *http.Client
	files   shared.MetadataFiles
	paths   *paths.Manager
	logger  zerolog.Logger
}

var _ shared.Client = (*Client)(nil)

// apiError is a non-2xx response
type apiError struct {
	Status int
	Body   ErrorResponse
}

func (e *apiError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("nessie returned %d: %s", e.Status, e.Body.Message)
	}
	return fmt.Sprintf("nessie returned %d", e.Status)
}

func statusOf(err error) int {
	var apiErr *apiError
	if stderrors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// APIBase turns a configured server uri into the v2 API root
func APIBase(serverURI string) string {
	base := strings.TrimRight(serverURI, "/")
	switch {
	case strings.HasSuffix(base, "/api/v2"):
		return base
	case strings.HasSuffix(base, "/api/v1"):
		return strings.TrimSuffix(base, "/v1") + "/v2"
	case strings.HasSuffix(base, "/api"):
		return base + "/v2"
	default:
		return base + "/api/v2"
	}
}

// New connects to the server and checks that the configured branch exists
func New(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (*Client, error) {
	if deps.IO == nil {
		return nil, shared.NewInternal(kind, "nessie catalog needs warehouse IO", nil)
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.ReadTimeout()}
	}

	c := &Client{
		baseURL: APIBase(cfg.ServerURI()),
		ref:     cfg.NessieRef(),
		token:   cfg.AuthToken(),
		http:    httpClient,
		files:   shared.MetadataFiles{Kind: kind, IO: deps.IO},
		paths:   paths.NewManager(cfg.Warehouse(), paths.LayoutUnique),
		logger:  deps.Logger.With().Str("component", shared.ComponentType).Str("backend", string(kind)).Logger(),
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	var conf Config
	if err := c.do(hctx, http.MethodGet, "/config", nil, &conf); err != nil {
		if s := statusOf(err); s == http.StatusUnauthorized || s == http.StatusForbidden {
			return nil, shared.NewAccessDenied(kind, c.baseURL, err)
		}
		return nil, shared.NewConnection(kind, c.baseURL, err)
	}
	if conf.MaxSupportedAPIVersion != 0 && conf.MaxSupportedAPIVersion < 2 {
		return nil, shared.NewConnection(kind, c.baseURL, errors.Newf(shared.ErrUnsupported, "server supports API v%d only", conf.MaxSupportedAPIVersion))
	}
	if _, err := c.reference(hctx, c.ref); err != nil {
		return nil, shared.NewConnection(kind, c.baseURL, err)
	}

	c.logger.Debug().Str("uri", c.baseURL).Str("ref", c.ref).Msg("Connected to Nessie")
	return c, nil
}

func (c *Client) Kind() config.CatalogType { return kind }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.New(shared.ErrInternal, "failed to marshal request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.New(shared.ErrInternal, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(shared.ErrInternal, "failed to decode nessie response", err)
	}
	return nil
}

// classify maps a failed call onto the catalog taxonomy. 404 and 409 are
// left to the caller.
func classify(op, name string, err error) error {
	switch s := statusOf(err); {
	case s == http.StatusUnauthorized || s == http.StatusForbidden:
		return shared.NewAccessDenied(kind, name, err)
	case s >= 500:
		return shared.NewUnavailable(kind, op, err)
	case s != 0:
		return shared.NewInternal(kind, "unexpected nessie response", err).AddContext("operation", op)
	default:
		return shared.ClassifyTransport(kind, op, err)
	}
}

func keyPath(elements []string) string {
	return url.PathEscape(strings.Join(elements, "."))
}

func tableKey(id shared.TableIdentifier) ContentKey {
	return ContentKey{Elements: append(append([]string{}, id.Namespace...), id.Name)}
}

func refAt(ref, hash string) string {
	if hash == "" {
		return url.PathEscape(ref)
	}
	return url.PathEscape(ref) + "@" + url.PathEscape(hash)
}

func (c *Client) reference(ctx context.Context, ref string) (Reference, error) {
	var resp ReferenceResponse
	if err := c.do(ctx, http.MethodGet, "/trees/"+url.PathEscape(ref), nil, &resp); err != nil {
		return Reference{}, err
	}
	return resp.Reference, nil
}

// content reads one key at ref, optionally pinned to a hash
func (c *Client) content(ctx context.Context, key ContentKey, hash string) (*ContentResponse, error) {
	var resp ContentResponse
	path := fmt.Sprintf("/trees/%s/contents/%s", refAt(c.ref, hash), keyPath(key.Elements))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) table(ctx context.Context, id shared.TableIdentifier, hash string) (*ContentResponse, error) {
	resp, err := c.content(ctx, tableKey(id), hash)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, shared.NewTableNotFound(kind, id, nil)
		}
		return nil, classify("get_content", id.String(), err)
	}
	if resp.Content.Type != TypeIcebergTable {
		return nil, shared.NewTableNotFound(kind, id, nil).AddContext("content_type", resp.Content.Type)
	}
	return resp, nil
}

func (c *Client) hashOf(ctx context.Context, resp *ContentResponse) (string, error) {
	if resp.EffectiveReference != nil && resp.EffectiveReference.Hash != "" {
		return resp.EffectiveReference.Hash, nil
	}
	ref, err := c.reference(ctx, c.ref)
	if err != nil {
		return "", classify("get_reference", c.ref, err)
	}
	return ref.Hash, nil
}

// CurrentToken returns the hash of the branch head the table was read at.
// The token is per branch, not per table: a commit to any other table moves
// it even though id is unchanged. ConditionalUpdate still accepts such a
// stale token because Nessie detects conflicts per content key, so only a
// change to id itself makes a commit lose.
func (c *Client) CurrentToken(ctx context.Context, id shared.TableIdentifier) (shared.Token, error) {
	resp, err := c.table(ctx, id, "")
	if err != nil {
		return "", err
	}
	hash, err := c.hashOf(ctx, resp)
	if err != nil {
		return "", err
	}
	return shared.Token(hash), nil
}

func (c *Client) FetchMetadataDocument(ctx context.Context, id shared.TableIdentifier) (*shared.Document, error) {
	resp, err := c.table(ctx, id, "")
	if err != nil {
		return nil, err
	}
	hash, err := c.hashOf(ctx, resp)
	if err != nil {
		return nil, err
	}
	location := resp.Content.MetadataLocation
	if location == "" {
		return nil, shared.NewCorruptMetadata(kind, id, "", errors.New(shared.ErrCorruptMetadata, "table content has no metadata location", nil))
	}
	data, err := c.files.Read(ctx, id, location)
	if err != nil {
		return nil, err
	}
	return &shared.Document{Token: shared.Token(hash), Location: location, Bytes: data}, nil
}

// tableContent builds the content object for a metadata document
func tableContent(contentID, location string, doc []byte) *Content {
	snapshotID := gjson.GetBytes(doc, "current-snapshot-id").Int()
	if !gjson.GetBytes(doc, "current-snapshot-id").Exists() {
		snapshotID = -1
	}
	return &Content{
		Type:             TypeIcebergTable,
		ID:               contentID,
		MetadataLocation: location,
		SnapshotID:       snapshotID,
		SchemaID:         int(gjson.GetBytes(doc, "current-schema-id").Int()),
		SpecID:           int(gjson.GetBytes(doc, "default-spec-id").Int()),
		SortOrderID:      int(gjson.GetBytes(doc, "default-sort-order-id").Int()),
	}
}

func (c *Client) commit(ctx context.Context, hash, message string, ops ...Operation) (*CommitResponse, error) {
	var resp CommitResponse
	body := Operations{CommitMeta: CommitMeta{Message: message}, Operations: ops}
	path := fmt.Sprintf("/trees/%s/history/commit", refAt(c.ref, hash))
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConditionalUpdate commits the new metadata pointer against branch@base.
// The server refuses with 409 when the table changed after base.
func (c *Client) ConditionalUpdate(ctx context.Context, id shared.TableIdentifier, base shared.Token, doc []byte) (shared.UpdateResult, error) {
	prev, err := c.table(ctx, id, string(base))
	if err != nil {
		if shared.IsTableNotFound(err) {
			// base hash unknown or the table did not exist at base
			if _, terr := c.table(ctx, id, ""); terr != nil {
				return shared.UpdateResult{}, terr
			}
			return c.rejected(ctx)
		}
		return shared.UpdateResult{}, err
	}

	location, err := c.files.Write(ctx, doc, prev.Content.MetadataLocation)
	if err != nil {
		return shared.UpdateResult{}, err
	}

	resp, err := c.commit(ctx, string(base), "Update table "+id.String(), Operation{
		Type:    OpPut,
		Key:     tableKey(id),
		Content: tableContent(prev.Content.ID, location, doc),
	})
	if err != nil {
		switch statusOf(err) {
		case http.StatusConflict, http.StatusNotFound:
			c.files.Discard(ctx, location)
			c.logger.Debug().Str("table", id.String()).Str("base", string(base)).Msg("Commit rejected by Nessie")
			return c.rejected(ctx)
		case 0:
			// outcome unknown, the file may be referenced now
			return shared.UpdateResult{}, classify("commit", id.String(), err)
		default:
			c.files.Discard(ctx, location)
			return shared.UpdateResult{}, classify("commit", id.String(), err)
		}
	}

	return shared.UpdateResult{Accepted: true, Current: shared.Token(resp.TargetBranch.Hash), Location: location}, nil
}

func (c *Client) rejected(ctx context.Context) (shared.UpdateResult, error) {
	ref, err := c.reference(ctx, c.ref)
	if err != nil {
		return shared.UpdateResult{}, classify("get_reference", c.ref, err)
	}
	return shared.UpdateResult{Accepted: false, Current: shared.Token(ref.Hash)}, nil
}

// ListNamespace lists the tables directly inside ns
func (c *Client) ListNamespace(ctx context.Context, ns shared.Namespace) ([]shared.TableIdentifier, error) {
	var out []shared.TableIdentifier
	pageToken := ""
	for {
		path := "/trees/" + url.PathEscape(c.ref) + "/entries"
		if pageToken != "" {
			path += "?page-token=" + url.QueryEscape(pageToken)
		}
		var resp EntriesResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, classify("list_entries", ns.String(), err)
		}
		for _, e := range resp.Entries {
			if e.Type != TypeIcebergTable || len(e.Name.Elements) != len(ns)+1 {
				continue
			}
			if !ns.Equal(shared.Namespace(e.Name.Elements[:len(ns)])) {
				continue
			}
			out = append(out, shared.TableIdentifier{Namespace: ns, Name: e.Name.Elements[len(ns)]})
		}
		if !resp.HasMore || resp.Token == "" {
			break
		}
		pageToken = resp.Token
	}

	if len(out) == 0 {
		if _, err := c.content(ctx, ContentKey{Elements: ns}, ""); err != nil {
			if statusOf(err) == http.StatusNotFound {
				return nil, shared.NewNamespaceNotFound(kind, ns, nil)
			}
			return nil, classify("get_content", ns.String(), err)
		}
	}
	return out, nil
}

func (c *Client) CreateNamespace(ctx context.Context, ns shared.Namespace, props map[string]string) error {
	ref, err := c.reference(ctx, c.ref)
	if err != nil {
		return classify("get_reference", c.ref, err)
	}
	_, err = c.commit(ctx, ref.Hash, "Create namespace "+ns.String(), Operation{
		Type: OpPut,
		Key:  ContentKey{Elements: ns},
		Content: &Content{
			Type:       TypeNamespace,
			Elements:   ns,
			Properties: props,
		},
	})
	if err != nil {
		if statusOf(err) == http.StatusConflict {
			return shared.NewAlreadyExists(kind, ns.String(), err)
		}
		return classify("create_namespace", ns.String(), err)
	}
	return nil
}

func (c *Client) CreateTable(ctx context.Context, id shared.TableIdentifier, doc []byte) (*shared.Document, error) {
	ref, err := c.reference(ctx, c.ref)
	if err != nil {
		return nil, classify("get_reference", c.ref, err)
	}
	if _, err := c.content(ctx, tableKey(id), ref.Hash); err == nil {
		return nil, shared.NewAlreadyExists(kind, id.String(), nil)
	} else if statusOf(err) != http.StatusNotFound {
		return nil, classify("get_content", id.String(), err)
	}

	location, err := c.files.Write(ctx, doc, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.commit(ctx, ref.Hash, "Create table "+id.String(), Operation{
		Type:    OpPut,
		Key:     tableKey(id),
		Content: tableContent("", location, doc),
	})
	if err != nil {
		c.files.Discard(ctx, location)
		if statusOf(err) == http.StatusConflict {
			return nil, shared.NewAlreadyExists(kind, id.String(), err)
		}
		return nil, classify("create_table", id.String(), err)
	}
	return &shared.Document{Token: shared.Token(resp.TargetBranch.Hash), Location: location, Bytes: doc}, nil
}

// DropTable removes the table content; metadata and data files stay
func (c *Client) DropTable(ctx context.Context, id shared.TableIdentifier) error {
	resp, err := c.table(ctx, id, "")
	if err != nil {
		return err
	}
	hash, err := c.hashOf(ctx, resp)
	if err != nil {
		return err
	}
	if _, err := c.commit(ctx, hash, "Drop table "+id.String(), Operation{Type: OpDelete, Key: tableKey(id)}); err != nil {
		if statusOf(err) == http.StatusConflict {
			return shared.NewCommitConflict(kind, id, shared.Token(hash), "")
		}
		return classify("drop_table", id.String(), err)
	}
	return nil
}

// DefaultLocation is {warehouse}/{ns...}/{table}_{uuid}
func (c *Client) DefaultLocation(id shared.TableIdentifier, tableUUID string) string {
	return c.paths.TableLocation(id.Namespace, id.Name, tableUUID)
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
