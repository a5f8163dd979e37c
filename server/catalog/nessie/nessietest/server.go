// Package nessietest runs an in-process Nessie server implementing the API
// v2 subset the nessie backend uses, with per-key conflict detection.
package nessietest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gear6io/ranger-catalog/server/catalog/nessie"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type entry struct {
	content nessie.Content
	// index of the commit that last put or deleted the key
	modified int
	deleted  bool
}

type commit struct {
	hash string
	tree map[string]entry
}

// Server is a fake Nessie server with a single branch
type Server struct {
	*httptest.Server

	branch string
	// Token, when set, is the bearer token every request must carry
	Token string

	mu      sync.Mutex
	commits []commit
	index   map[string]int
	fail    []int
	// Commits counts accepted commits
	commitCount int
}

// New starts a server with an empty branch. Close it when done.
func New(branch string) *Server {
	s := &Server{
		branch: branch,
		index:  make(map[string]int),
	}
	s.appendCommit(map[string]entry{})

	r := chi.NewRouter()
	r.Use(s.auth)
	r.Use(s.injectFailures)
	r.Route("/api/v2", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Get("/trees/{ref}", s.handleReference)
		r.Get("/trees/{ref}/contents/{key}", s.handleContent)
		r.Get("/trees/{ref}/entries", s.handleEntries)
		r.Post("/trees/{ref}/history/commit", s.handleCommit)
	})
	s.Server = httptest.NewServer(r)
	return s
}

// URL of the API root
func (s *Server) APIURL() string { return s.URL + "/api/v2" }

// FailNext makes the next requests fail with the given statuses, in order
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = append(s.fail, statuses...)
}

// Head returns the hash of the branch head
func (s *Server) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[len(s.commits)-1].hash
}

// CommitCount returns the number of commits accepted
func (s *Server) CommitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitCount
}

// Content returns the live content at key, if any
func (s *Server) Content(elements ...string) (nessie.Content, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.commits[len(s.commits)-1].tree[strings.Join(elements, ".")]
	if !ok || e.deleted {
		return nessie.Content{}, false
	}
	return e.content, true
}

func (s *Server) appendCommit(tree map[string]entry) string {
	n := len(s.commits)
	sum := sha256.Sum256([]byte(s.branch + "/" + strconv.Itoa(n)))
	hash := hex.EncodeToString(sum[:8])
	s.commits = append(s.commits, commit{hash: hash, tree: tree})
	s.index[hash] = n
	return hash
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, nessie.ErrorResponse{
		Status:    status,
		Reason:    http.StatusText(status),
		Message:   msg,
		ErrorCode: code,
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		if len(s.fail) > 0 {
			status, s.fail = s.fail[0], s.fail[1:]
		}
		s.mu.Unlock()
		if status != 0 {
			writeError(w, status, "INJECTED", "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolve returns the commit a {ref} or {ref}@{hash} path segment names.
// Callers hold s.mu.
func (s *Server) resolve(w http.ResponseWriter, segment string) (int, bool) {
	name, hash, pinned := strings.Cut(segment, "@")
	if name != s.branch {
		writeError(w, http.StatusNotFound, "REFERENCE_NOT_FOUND", "named reference '"+name+"' not found")
		return 0, false
	}
	if !pinned || hash == "" {
		return len(s.commits) - 1, true
	}
	i, ok := s.index[hash]
	if !ok {
		writeError(w, http.StatusNotFound, "REFERENCE_NOT_FOUND", "commit '"+hash+"' not found")
		return 0, false
	}
	return i, true
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nessie.Config{
		DefaultBranch:          s.branch,
		MinSupportedAPIVersion: 1,
		MaxSupportedAPIVersion: 2,
	})
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.resolve(w, chi.URLParam(r, "ref"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nessie.ReferenceResponse{
		Reference: nessie.Reference{Type: nessie.RefBranch, Name: s.branch, Hash: s.commits[i].hash},
	})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.resolve(w, chi.URLParam(r, "ref"))
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	e, found := s.commits[i].tree[key]
	if !found || e.deleted {
		writeError(w, http.StatusNotFound, "CONTENT_NOT_FOUND", "could not find content for key '"+key+"'")
		return
	}
	writeJSON(w, http.StatusOK, nessie.ContentResponse{
		Content:            e.content,
		EffectiveReference: &nessie.Reference{Type: nessie.RefBranch, Name: s.branch, Hash: s.commits[i].hash},
	})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.resolve(w, chi.URLParam(r, "ref"))
	if !ok {
		return
	}
	keys := make([]string, 0, len(s.commits[i].tree))
	for k, e := range s.commits[i].tree {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	resp := nessie.EntriesResponse{
		Entries:            make([]nessie.Entry, 0, len(keys)),
		EffectiveReference: &nessie.Reference{Type: nessie.RefBranch, Name: s.branch, Hash: s.commits[i].hash},
	}
	for _, k := range keys {
		e := s.commits[i].tree[k]
		resp.Entries = append(resp.Entries, nessie.Entry{
			Type:      e.content.Type,
			Name:      nessie.ContentKey{Elements: strings.Split(k, ".")},
			ContentID: e.content.ID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCommit applies operations against {branch}@{hash}. A key touched
// by a commit after hash is a conflict; unrelated keys are not.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var ops nessie.Operations
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	expected, ok := s.resolve(w, chi.URLParam(r, "ref"))
	if !ok {
		return
	}

	head := s.commits[len(s.commits)-1].tree
	for _, op := range ops.Operations {
		key := strings.Join(op.Key.Elements, ".")
		if e, ok := head[key]; ok && e.modified > expected {
			writeError(w, http.StatusConflict, "REFERENCE_CONFLICT", "key '"+key+"' has conflicting changes")
			return
		}
		// a new key must not exist at head
		if op.Type == nessie.OpPut && op.Content != nil && op.Content.ID == "" {
			if e, ok := head[key]; ok && !e.deleted {
				writeError(w, http.StatusConflict, "REFERENCE_CONFLICT", "key '"+key+"' already exists")
				return
			}
		}
		if op.Type == nessie.OpDelete {
			if e, ok := head[key]; !ok || e.deleted {
				writeError(w, http.StatusNotFound, "CONTENT_NOT_FOUND", "key '"+key+"' does not exist")
				return
			}
		}
	}

	next := make(map[string]entry, len(head)+len(ops.Operations))
	for k, e := range head {
		next[k] = e
	}
	n := len(s.commits)
	var added []nessie.AddedContent
	for _, op := range ops.Operations {
		key := strings.Join(op.Key.Elements, ".")
		switch op.Type {
		case nessie.OpPut:
			content := *op.Content
			if content.ID == "" {
				content.ID = uuid.NewString()
				added = append(added, nessie.AddedContent{Key: op.Key, ContentID: content.ID})
			}
			next[key] = entry{content: content, modified: n}
		case nessie.OpDelete:
			next[key] = entry{modified: n, deleted: true}
		}
	}
	hash := s.appendCommit(next)
	s.commitCount++

	writeJSON(w, http.StatusOK, nessie.CommitResponse{
		TargetBranch:  nessie.Reference{Type: nessie.RefBranch, Name: s.branch, Hash: hash},
		AddedContents: added,
	})
}
