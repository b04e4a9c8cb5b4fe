package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/attest/internal/auth"
	"github.com/roach88/attest/internal/ledger"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	s.writeJSON(w, status, newErrorResponse(code, err.Error()))
}

// lookup resolves the {ledger} URL parameter, writing 404 if unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*ledger.Ledger, bool) {
	name := urlParam(r, "ledger")
	l, ok := s.ledgers[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, newErrorResponse(CodeNotFound, fmt.Sprintf("unknown ledger %q", name)))
		return nil, false
	}
	return l, true
}

// urlParam returns a path parameter with percent-escapes decoded. chi
// matches against RawPath when it is set and against the decoded Path
// otherwise, so only the former needs unescaping.
func urlParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return raw
	}
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// authenticate reads the body and verifies the bearer intent token for op.
func (s *Server) authenticate(r *http.Request, op, ledgerName string) (ledger.Identity, []byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, badRequest{fmt.Errorf("read body: %w", err)}
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", nil, fmt.Errorf("%w: missing bearer token", auth.ErrUnauthenticated)
	}
	caller, err := s.verifier.Verify(r.Context(), token, op, ledgerName, body)
	if err != nil {
		return "", nil, err
	}
	return caller, body, nil
}

// badRequest marks transport-level input errors.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, newOKResponse())
}

func (s *Server) handleListLedgers(w http.ResponseWriter, r *http.Request) {
	infos := make([]LedgerInfo, 0, len(s.names))
	for _, name := range s.names {
		info, err := s.info(r, s.ledgers[name])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		infos = append(infos, info)
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Ledgers: infos})
}

func (s *Server) handleLedgerInfo(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lookup(w, r)
	if !ok {
		return
	}
	info, err := s.info(r, l)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Ledger: &info})
}

func (s *Server) info(r *http.Request, l *ledger.Ledger) (LedgerInfo, error) {
	st, err := l.State(r.Context())
	if err != nil {
		return LedgerInfo{}, err
	}
	return LedgerInfo{
		Name:        l.Name(),
		Schema:      l.Schema(),
		Initialized: st.Initialized,
		Admin:       st.Admin,
		Sequence:    st.Sequence,
	}, nil
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lookup(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	caller, data, err := s.authenticate(r, auth.OpInitialize, l.Name())
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	body, err := s.bodies.decodeInitialize(data)
	if err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, newErrorResponse(CodeBadRequest, err.Error()))
		return
	}

	if err := l.Initialize(r.Context(), caller, body.Admin); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.info(r, l)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, Response{Status: StatusSuccess, Ledger: &info})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lookup(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	caller, data, err := s.authenticate(r, auth.OpRecord, l.Name())
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	body, err := s.bodies.decodeRecord(data)
	if err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, newErrorResponse(CodeBadRequest, err.Error()))
		return
	}

	rec, err := l.Record(r.Context(), caller, body.Request())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/ledgers/%s/records/%s", l.Name(), url.PathEscape(rec.Key)))
	s.writeJSON(w, http.StatusCreated, Response{Status: StatusSuccess, Record: &rec})
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var br badRequest
	if errors.As(err, &br) {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeJSON(w, status, newErrorResponse(CodeBadRequest, err.Error()))
		return
	}
	s.writeError(w, r, err)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lookup(w, r)
	if !ok {
		return
	}
	key := urlParam(r, "key")
	rec, found, err := l.Get(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, newErrorResponse(CodeNotFound, fmt.Sprintf("no record %q", key)))
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Record: &rec})
}

func (s *Server) handleListByParty(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lookup(w, r)
	if !ok {
		return
	}
	party := ledger.Identity(urlParam(r, "party"))

	var (
		records []ledger.Record
		err     error
	)
	if dim := r.URL.Query().Get("index"); dim != "" {
		records, err = l.ListByIndex(r.Context(), dim, party)
	} else {
		records, err = l.ListByParty(r.Context(), party)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Status: StatusSuccess, Records: records})
}
