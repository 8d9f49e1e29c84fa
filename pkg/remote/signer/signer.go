// Package signer implements the mediated-credential protocol the sync
// engine uses to talk to object storage: the engine never holds storage
// credentials directly, it asks a signer service for a short-lived
// presigned URL for the specific (operation, key) pair it needs, then
// performs that single HTTP request itself.
//
// The package provides one signing backend, HMACBackend: a plain
// HMAC-SHA256 scheme for object stores that only need to verify a request
// was authorized by someone holding the shared secret. No backend based on
// S3 presigned URLs is included.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Operation identifies which kind of URL is being requested.
type Operation string

const (
	OpPut    Operation = "put"
	OpGet    Operation = "get"
	OpDelete Operation = "delete"
)

// SignRequest is the wire request body for POST /sign.
type SignRequest struct {
	Operation Operation `json:"operation"`
	Key       string    `json:"key"`
	Size      int64     `json:"size,omitempty"`
}

// SignResponse is the wire response body for POST /sign.
type SignResponse struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Backend mints a SignResponse for a validated SignRequest. HMACBackend is
// the implementation in this package; callers inject it into NewService.
type Backend interface {
	Sign(req SignRequest) (SignResponse, error)
}

// Service exposes a Backend over HTTP using chi routing, so a client device
// that should never see storage credentials can still obtain a
// single-use URL for one operation on one key.
type Service struct {
	backend Backend
	router  chi.Router
}

// NewService builds a Service backed by backend.
func NewService(backend Backend) *Service {
	s := &Service{backend: backend, router: chi.NewRouter()}
	s.router.Post("/sign", s.handleSign)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Service) handleSign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	resp, err := s.backend.Sign(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HMACBackend signs requests with a shared secret rather than delegating to
// the object storage provider's own presign API. It is meant for a remote
// store that enforces authorization at an edge proxy by validating this
// signature, rather than a true S3-compatible backend.
type HMACBackend struct {
	Secret   []byte
	BaseURL  string
	TTL      time.Duration
}

// Sign implements Backend.
func (b *HMACBackend) Sign(req SignRequest) (SignResponse, error) {
	if len(b.Secret) == 0 {
		return SignResponse{}, fmt.Errorf("signer: no secret configured")
	}

	expires := time.Now().Add(b.TTL)
	mac := hmac.New(sha256.New, b.Secret)
	fmt.Fprintf(mac, "%s:%s:%d", req.Operation, req.Key, expires.Unix())
	sig := hex.EncodeToString(mac.Sum(nil))

	method := http.MethodGet
	if req.Operation == OpPut {
		method = http.MethodPut
	} else if req.Operation == OpDelete {
		method = http.MethodDelete
	}

	url := fmt.Sprintf("%s/%s?expires=%d&sig=%s", b.BaseURL, req.Key, expires.Unix(), sig)
	return SignResponse{URL: url, Method: method, ExpiresAt: expires}, nil
}

var _ Backend = (*HMACBackend)(nil)
