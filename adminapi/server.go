// Package adminapi exposes the operator-facing REST surface: creating
// and cancelling elections, adding candidates and authorized voters,
// and reading back election/voter state. It follows the teacher's
// net/http + encoding/json handler idiom (method-not-allowed guard,
// json.NewDecoder(r.Body).Decode, a uniform JSON response envelope)
// generalized from the teacher's blockchain/candidate endpoints to
// this system's election/candidate/voter CRUD surface.
package adminapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/ec-core/ec/ecerr"
	"github.com/ec-core/ec/election"
	"github.com/ec-core/ec/registry"
)

// Store is the subset of store.Store the admin API needs.
type Store interface {
	UpsertElection(e *election.Election) error
	UpsertCandidates(electionID string, candidates []election.Candidate) error
	AddVoter(electionID, pubkey string) error
	GetElection(electionID string) (*election.Election, error)
	ListElections(offset, limit int) ([]election.AnnouncementView, error)
	ListVoters(electionID string, offset, limit int) ([]string, error)
}

// PubkeyValidator checks that a string is a valid Nostr public key
// (32-byte secp256k1 x-coordinate, hex-encoded). Satisfied by this
// package's Secp256k1Validator.
type PubkeyValidator interface {
	Valid(pubkeyHex string) bool
}

// Publisher republishes an election's announcement event. Satisfied
// by publisher.Publisher. It may be left nil (e.g. in tests exercising
// only the HTTP/store/registry contract), in which case mutations
// simply skip re-announcing.
type Publisher interface {
	RepublishAnnouncement(electionID string)
}

// Server is the admin HTTP API. It binds loopback-only by default
// (spec.md §4.7's "admin surface is not reachable from the public
// network" requirement), the same caution the teacher's main.go takes
// with its own HTTP bind address.
type Server struct {
	registry  *registry.Registry
	store     Store
	validator PubkeyValidator
	publisher Publisher
	now       func() int64
}

// NewServer constructs a Server. publisher may be nil.
func NewServer(reg *registry.Registry, store Store, validator PubkeyValidator, publisher Publisher, now func() int64) *Server {
	return &Server{registry: reg, store: store, validator: validator, publisher: publisher, now: now}
}

// Routes registers every admin handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/elections", s.handleElections)
	mux.HandleFunc("/admin/elections/candidates", s.handleAddCandidate)
	mux.HandleFunc("/admin/elections/voters", s.handleVoters)
	mux.HandleFunc("/admin/elections/cancel", s.handleCancel)
	mux.HandleFunc("/admin/elections/get", s.handleGetElection)
}

// envelope is the uniform response shape every handler writes,
// matching the teacher's flat JSON response structs.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("adminapi: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ecerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ecerr.ErrInvalidArgument), errors.Is(err, ecerr.ErrMalformed), errors.Is(err, ecerr.ErrInvalidPubkey):
		return http.StatusBadRequest
	case errors.Is(err, ecerr.ErrDuplicate), errors.Is(err, ecerr.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// addElectionRequest is the AddElection request body. RSAPublicKeyRef
// is stored and announced exactly as the HTTP client sends it; the
// server does not fill it in from the EC's own RSA keypair.
type addElectionRequest struct {
	Name            string               `json:"name"`
	StartTime       int64                `json:"start_time"`
	EndTime         int64                `json:"end_time"`
	Candidates      []election.Candidate `json:"candidates"`
	RSAPublicKeyRef string               `json:"rsa_public_key"`
}

func (s *Server) handleElections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAddElection(w, r)
	case http.MethodGet:
		s.handleListElections(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAddElection creates a new election. Per spec.md §4.7, the name
// is capped at 100 characters, matching the original implementation's
// validate_election_name.
func (s *Server) handleAddElection(w http.ResponseWriter, r *http.Request) {
	var req addElectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Name) == 0 || len(req.Name) > 100 {
		writeError(w, http.StatusBadRequest, "name must be 1..=100 characters")
		return
	}
	for _, c := range req.Candidates {
		if len(c.Name) > 50 {
			writeError(w, http.StatusBadRequest, "candidate name must be <=50 characters")
			return
		}
	}

	id, err := election.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate election id")
		return
	}
	now := s.now()
	e, err := election.New(id, req.Name, req.StartTime, req.EndTime, req.Candidates, req.RSAPublicKeyRef, now)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if err := s.store.UpsertElection(e); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.Insert(e)
	if s.publisher != nil {
		s.publisher.RepublishAnnouncement(e.ID)
	}

	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: e.Announcement()})
}

func (s *Server) handleListElections(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	views, err := s.store.ListElections(offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: views})
}

func (s *Server) handleGetElection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	e, err := s.store.GetElection(id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: e.Announcement()})
}

type addCandidateRequest struct {
	ElectionID string             `json:"election_id"`
	Candidate  election.Candidate `json:"candidate"`
}

func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req addCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Candidate.ID == 0 {
		writeError(w, http.StatusBadRequest, "candidate id must be 1..=255")
		return
	}
	if len(req.Candidate.Name) > 50 {
		writeError(w, http.StatusBadRequest, "candidate name must be <=50 characters")
		return
	}

	now := s.now()
	err := s.registry.WithElection(req.ElectionID, func(e *election.Election) error {
		beforeLen := len(e.Candidates)
		beforeUpdatedAt := e.UpdatedAt
		if err := e.AddCandidate(req.Candidate, now); err != nil {
			return err
		}
		if err := s.store.UpsertCandidates(req.ElectionID, e.Candidates); err != nil {
			// Store failed: roll back the in-memory append so the
			// registry never runs ahead of the durable image
			// (spec.md §4.3).
			e.Candidates = e.Candidates[:beforeLen]
			e.UpdatedAt = beforeUpdatedAt
			return err
		}
		return nil
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if s.publisher != nil {
		s.publisher.RepublishAnnouncement(req.ElectionID)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

type addVoterRequest struct {
	ElectionID string `json:"election_id"`
	Pubkey     string `json:"pubkey"`
}

// handleVoters handles AddVoter (POST) and ListVoters (GET). AddVoter
// is idempotent: adding the same pubkey twice succeeds both times,
// per spec.md §4.7 and the original save_election_voters's
// ON CONFLICT DO NOTHING semantics.
func (s *Server) handleVoters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAddVoter(w, r)
	case http.MethodGet:
		s.handleListVoters(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAddVoter(w http.ResponseWriter, r *http.Request) {
	var req addVoterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.validator.Valid(req.Pubkey) {
		writeError(w, http.StatusBadRequest, ecerr.ErrInvalidPubkey.Error())
		return
	}
	if !s.registry.Exists(req.ElectionID) {
		writeError(w, http.StatusNotFound, ecerr.ErrNotFound.Error())
		return
	}

	if err := s.store.AddVoter(req.ElectionID, req.Pubkey); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	err := s.registry.WithElection(req.ElectionID, func(e *election.Election) error {
		e.AuthorizeVoter(req.Pubkey)
		return nil
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleListVoters(w http.ResponseWriter, r *http.Request) {
	electionID := r.URL.Query().Get("election_id")
	if electionID == "" {
		writeError(w, http.StatusBadRequest, "election_id is required")
		return
	}
	offset, limit := pageParams(r)
	voters, err := s.store.ListVoters(electionID, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: voters})
}

type cancelRequest struct {
	ElectionID string `json:"election_id"`
}

// handleCancel cancels an election. It is not idempotent: a second
// call against an already-cancelled (or otherwise terminal) election
// returns ErrInvalidTransition, per spec.md §8's stated asymmetry with
// AddVoter.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := s.now()
	err := s.registry.WithElection(req.ElectionID, func(e *election.Election) error {
		beforeStatus := e.Status
		beforeUpdatedAt := e.UpdatedAt
		if err := e.Cancel(now); err != nil {
			return err
		}
		if err := s.store.UpsertElection(e); err != nil {
			e.Status = beforeStatus
			e.UpdatedAt = beforeUpdatedAt
			return err
		}
		return nil
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if s.publisher != nil {
		s.publisher.RepublishAnnouncement(req.ElectionID)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func pageParams(r *http.Request) (offset, limit int) {
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := parseNonNegativeInt(v); err == nil {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parseNonNegativeInt(v); err == nil {
			limit = n
		}
	}
	return offset, limit
}

func parseNonNegativeInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscan(s, &n); err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
