// Package resttest runs an in-process Iceberg REST catalog implementing the
// config, namespace and table routes the rest backend uses for create, load,
// list and drop. Commits are not served.
package resttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/gear6io/ranger-catalog/server/metadata"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// namespace levels are joined with the unit separator in request paths
const namespaceSeparator = "\x1f"

type table struct {
	metadataLocation string
	doc              json.RawMessage
}

// Server is a fake REST catalog that keeps tables in memory
type Server struct {
	*httptest.Server

	warehouse string

	mu         sync.Mutex
	namespaces map[string]map[string]string
	tables     map[string]table
}

// New starts a server that places tables under warehouse. Close it when
// done.
func New(warehouse string) *Server {
	s := &Server{
		warehouse:  strings.TrimRight(warehouse, "/"),
		namespaces: make(map[string]map[string]string),
		tables:     make(map[string]table),
	}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Post("/namespaces", s.handleCreateNamespace)
		r.Get("/namespaces/{ns}/tables", s.handleListTables)
		r.Post("/namespaces/{ns}/tables", s.handleCreateTable)
		r.Get("/namespaces/{ns}/tables/{table}", s.handleLoadTable)
		r.Delete("/namespaces/{ns}/tables/{table}", s.handleDropTable)
	})
	s.Server = httptest.NewServer(r)
	return s
}

// MetadataLocation returns the metadata location of the table, if it exists
func (s *Server) MetadataLocation(namespace []string, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableKey(strings.Join(namespace, namespaceSeparator), name)]
	return t.metadataLocation, ok
}

type errorModel struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type createNamespaceRequest struct {
	Namespace  []string          `json:"namespace"`
	Properties map[string]string `json:"properties,omitempty"`
}

type createTableRequest struct {
	Name          string                  `json:"name"`
	Location      string                  `json:"location,omitempty"`
	Schema        metadata.Schema         `json:"schema"`
	PartitionSpec *metadata.PartitionSpec `json:"partition-spec,omitempty"`
	Properties    map[string]string       `json:"properties,omitempty"`
}

type identifier struct {
	Namespace []string `json:"namespace"`
	Name      string   `json:"name"`
}

type loadTableResponse struct {
	MetadataLocation string            `json:"metadata-location"`
	Metadata         json.RawMessage   `json:"metadata"`
	Config           map[string]string `json:"config"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, struct {
		Error errorModel `json:"error"`
	}{Error: errorModel{Message: msg, Type: typ, Code: status}})
}

func tableKey(ns, name string) string { return ns + "/" + name }

// namespaceParam decodes the {ns} path segment
func namespaceParam(r *http.Request) string {
	ns := chi.URLParam(r, "ns")
	if decoded, err := url.PathUnescape(ns); err == nil {
		return decoded
	}
	return ns
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]map[string]string{
		"defaults":  {},
		"overrides": {},
	})
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var req createNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Namespace) == 0 {
		writeError(w, http.StatusBadRequest, "BadRequestException", "invalid create namespace request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ns := strings.Join(req.Namespace, namespaceSeparator)
	if _, ok := s.namespaces[ns]; ok {
		writeError(w, http.StatusConflict, "AlreadyExistsException", "namespace already exists: "+strings.Join(req.Namespace, "."))
		return
	}
	if req.Properties == nil {
		req.Properties = map[string]string{}
	}
	s.namespaces[ns] = req.Properties
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	ns := namespaceParam(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns]; !ok {
		writeError(w, http.StatusNotFound, "NoSuchNamespaceException", "namespace does not exist: "+ns)
		return
	}
	var names []string
	for key := range s.tables {
		if tableNs, name, _ := strings.Cut(key, "/"); tableNs == ns {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	idents := make([]identifier, 0, len(names))
	for _, name := range names {
		idents = append(idents, identifier{Namespace: strings.Split(ns, namespaceSeparator), Name: name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"identifiers": idents})
}

// handleCreateTable builds the first metadata document of the table at
// {warehouse}/{namespace...}/{name} unless the request names a location
func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	ns := namespaceParam(r)
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "BadRequestException", "invalid create table request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns]; !ok {
		writeError(w, http.StatusNotFound, "NoSuchNamespaceException", "namespace does not exist: "+ns)
		return
	}
	key := tableKey(ns, req.Name)
	if _, ok := s.tables[key]; ok {
		writeError(w, http.StatusConflict, "AlreadyExistsException", "table already exists: "+req.Name)
		return
	}

	location := req.Location
	if location == "" {
		location = s.warehouse + "/" + path.Join(append(strings.Split(ns, namespaceSeparator), req.Name)...)
	}
	var spec metadata.PartitionSpec
	if req.PartitionSpec != nil {
		spec = *req.PartitionSpec
	}
	tableUUID := uuid.NewString()
	md, err := metadata.NewTable(tableUUID, location, req.Schema, spec, req.Properties)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ValidationException", err.Error())
		return
	}
	doc, err := md.Serialize()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ServerError", err.Error())
		return
	}

	t := table{
		metadataLocation: md.MetadataDirectory() + "/00000-" + tableUUID + ".metadata.json",
		doc:              doc,
	}
	s.tables[key] = t
	writeJSON(w, http.StatusOK, loadTableResponse{MetadataLocation: t.metadataLocation, Metadata: t.doc, Config: map[string]string{}})
}

func (s *Server) handleLoadTable(w http.ResponseWriter, r *http.Request) {
	ns := namespaceParam(r)
	name := chi.URLParam(r, "table")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableKey(ns, name)]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchTableException", "table does not exist: "+name)
		return
	}
	writeJSON(w, http.StatusOK, loadTableResponse{MetadataLocation: t.metadataLocation, Metadata: t.doc, Config: map[string]string{}})
}

func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	ns := namespaceParam(r)
	name := chi.URLParam(r, "table")

	s.mu.Lock()
	defer s.mu.Unlock()
	key := tableKey(ns, name)
	if _, ok := s.tables[key]; !ok {
		writeError(w, http.StatusNotFound, "NoSuchTableException", "table does not exist: "+name)
		return
	}
	delete(s.tables, key)
	w.WriteHeader(http.StatusNoContent)
}
