package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/mod/sumdb/note"

	"github.com/relves/graphlog/pkg/reid"
	"github.com/relves/graphlog/pkg/tlog"
)

// Stage is how far a request got before it was answered. Log lines carry
// the last stage reached; StageResponded marks a reply on the wire.
type Stage int

const (
	StageAccepted Stage = iota
	StageParsed
	StageVerified
	StageApplied
	StageResponded
)

var stageNames = [...]string{"accepted", "parsed", "verified", "applied", "responded"}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Response is a protocol reply, independent of how it is written out.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// PublishRequest is the body of POST /publish. Pubk holds the signer's
// public key as PEM or base64 PEM.
type PublishRequest struct {
	Reid string `json:"reid"`
	Pubk string `json:"pubk"`
}

// PublishResponse is the body of a successful publish.
type PublishResponse struct {
	Index uint64 `json:"index"`
}

// RecordResponse carries one encoded record. Reid is "null" on a lookup miss.
type RecordResponse struct {
	Reid string `json:"reid"`
}

// LookUpRequest is the body of POST /look_up.
type LookUpRequest struct {
	IDB64 string `json:"id_b64"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Service answers protocol requests against a log.
type Service struct {
	log     *tlog.Log
	signer  note.Signer
	origin  string
	logger  *slog.Logger
	metrics *Metrics
	keys    *lru.Cache[string, ed25519.PublicKey]
	maxBody int64
}

// NewService creates a Service from opts. WithLog is required.
func NewService(opts ...Option) (*Service, error) {
	cfg := applyOptions(opts...)
	if cfg.Log == nil {
		return nil, errors.New("log is required")
	}
	return newService(cfg, NewMetrics(cfg.Registerer))
}

func newService(cfg *Config, metrics *Metrics) (*Service, error) {
	if cfg.KeyCacheSize <= 0 {
		return nil, errors.New("key cache size must be positive")
	}
	keys, err := lru.New[string, ed25519.PublicKey](cfg.KeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	metrics.entries.Set(float64(cfg.Log.Len()))
	return &Service{
		log:     cfg.Log,
		signer:  cfg.CheckpointSigner,
		origin:  cfg.Origin,
		logger:  cfg.Logger,
		metrics: metrics,
		keys:    keys,
		maxBody: cfg.MaxBodyBytes,
	}, nil
}

// Handle answers one request. It never returns nil.
func (s *Service) Handle(ctx context.Context, r *http.Request) *Response {
	ep := ParseEndpoint(r.Method, r.URL.Path)
	stage := StageAccepted

	resp, err := s.route(ctx, ep, r, &stage)
	if err != nil {
		resp = s.failure(ep, stage, err)
	}

	s.metrics.observeRequest(ep.Kind, resp.Status)
	s.logger.Debug("request handled", "endpoint", ep.Kind.String(), "status", resp.Status, "stage", stage.String())
	return resp
}

func (s *Service) route(ctx context.Context, ep Endpoint, r *http.Request, stage *Stage) (*Response, error) {
	switch ep.Kind {
	case EndpointPublish:
		return s.publish(ctx, r, stage)
	case EndpointTail:
		return s.tail(stage)
	case EndpointTailN:
		return s.tailN(ep.N, stage)
	case EndpointTailAll:
		*stage = StageParsed
		return nil, &ProtocolError{Status: http.StatusNotImplemented, Code: "tail_all", Message: "tail_all is not supported", Err: ErrNotImplemented}
	case EndpointLookUp:
		return s.lookUp(r, stage)
	case EndpointCheckpoint:
		return s.checkpoint(stage)
	case EndpointUnhandled:
		return nil, &ProtocolError{Status: http.StatusNotFound, Code: "unhandled", Message: "unhandled request"}
	default:
		return nil, fmt.Errorf("unknown endpoint kind %v", ep.Kind)
	}
}

func (s *Service) publish(ctx context.Context, r *http.Request, stage *Stage) (*Response, error) {
	var req PublishRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}
	rec, err := reid.Decode(req.Reid)
	if err != nil {
		return nil, malformed("record", err)
	}
	pub, err := s.publicKey(req.Pubk)
	if err != nil {
		return nil, malformed("public_key", err)
	}
	*stage = StageParsed

	if !reid.BindsID(pub, rec.ID) {
		return nil, rejected("id_mismatch")
	}
	if !rec.Verify(pub) {
		return nil, rejected("signature")
	}
	*stage = StageVerified

	index, err := s.log.AppendAndPersist(ctx, rec)
	if err != nil {
		if !errors.Is(err, tlog.ErrPersist) {
			return nil, err
		}
		s.metrics.persistFailures.Inc()
		s.logger.Warn("persist failed, entry kept in memory", "index", index, "error", err)
	}
	*stage = StageApplied
	s.metrics.entries.Set(float64(s.log.Len()))

	s.logger.Info("record published", "id", base64.StdEncoding.EncodeToString(rec.ID), "index", index)
	return jsonResponse(http.StatusCreated, PublishResponse{Index: index})
}

func (s *Service) tail(stage *Stage) (*Response, error) {
	*stage = StageParsed
	rec, ok := s.log.Tail()
	*stage = StageApplied
	if !ok {
		return &Response{Status: http.StatusNoContent}, nil
	}
	line, err := rec.Encode()
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, RecordResponse{Reid: line})
}

func (s *Service) tailN(n int, stage *Stage) (*Response, error) {
	*stage = StageParsed
	records := s.log.TailN(n)
	*stage = StageApplied

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		line, err := rec.Encode()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return jsonResponse(http.StatusOK, lines)
}

func (s *Service) lookUp(r *http.Request, stage *Stage) (*Response, error) {
	var req LookUpRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}
	id, err := base64.StdEncoding.DecodeString(req.IDB64)
	if err != nil {
		return nil, malformed("id", err)
	}
	*stage = StageParsed

	rec, ok := s.log.LookupID(id)
	*stage = StageApplied
	if !ok {
		return jsonResponse(http.StatusNotFound, RecordResponse{Reid: "null"})
	}
	line, err := rec.Encode()
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, RecordResponse{Reid: line})
}

func (s *Service) checkpoint(stage *Stage) (*Response, error) {
	*stage = StageParsed
	if s.signer == nil {
		return nil, &ProtocolError{Status: http.StatusNotImplemented, Code: "checkpoint", Message: "checkpoint signing is not configured", Err: ErrNotImplemented}
	}
	cp, err := s.log.Checkpoint(s.origin)
	if err != nil {
		return nil, err
	}
	msg, err := tlog.SignCheckpoint(cp, s.signer)
	if err != nil {
		return nil, err
	}
	*stage = StageApplied
	return &Response{Status: http.StatusOK, ContentType: "text/plain; charset=utf-8", Body: msg}, nil
}

// publicKey parses key material, consulting the cache first.
func (s *Service) publicKey(material string) (ed25519.PublicKey, error) {
	if pub, ok := s.keys.Get(material); ok {
		return pub, nil
	}
	pub, err := reid.ParsePublicKey(material)
	if err != nil {
		return nil, err
	}
	s.keys.Add(material, pub)
	return pub, nil
}

// decodeBody reads a JSON request body into v.
func (s *Service) decodeBody(r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return malformed("content_type", fmt.Errorf("content type %q", r.Header.Get("Content-Type")))
	}
	if r.Body == nil {
		return malformed("body", errors.New("missing body"))
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		return malformed("body", err)
	}
	if int64(len(data)) > s.maxBody {
		return malformed("body", fmt.Errorf("body exceeds %d bytes", s.maxBody))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return malformed("json", err)
	}
	return nil
}

func (s *Service) failure(ep Endpoint, stage Stage, err error) *Response {
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		s.logger.Error("request failed", "endpoint", ep.Kind.String(), "stage", stage.String(), "error", err)
		return errorResponse(http.StatusInternalServerError, "internal error")
	}

	if ep.Kind == EndpointPublish && perr.Status < http.StatusInternalServerError {
		s.metrics.rejected.WithLabelValues(perr.Code).Inc()
	}
	s.logger.Info("request refused", "endpoint", ep.Kind.String(), "stage", stage.String(), "code", perr.Code, "error", err)
	return errorResponse(perr.Status, perr.Message)
}

func jsonResponse(status int, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &Response{Status: status, ContentType: "application/json", Body: data}, nil
}

func errorResponse(status int, msg string) *Response {
	data, _ := json.Marshal(ErrorResponse{Error: msg})
	return &Response{Status: status, ContentType: "application/json", Body: data}
}
