package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"casedesk/auth"
	"casedesk/bulkapi"
	"casedesk/cases"
	"casedesk/offer"
	"casedesk/professional"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

type caseLifecycle interface {
	Transition(ctx context.Context, params cases.TransitionParams) (cases.Status, error)
	Target(ctx context.Context, caseID, clientID, professionalID int64) error
	Respond(ctx context.Context, caseID, professionalID int64, accept bool) (cases.Status, error)
	Delete(ctx context.Context, caseID, clientID int64) error
}

// Server serves the bulk API and mounts the notification hub.
type Server struct {
	authService         authService
	caseRepo            cases.Repository
	statusService       caseLifecycle
	offerRepo           offer.Repository
	professionalService *professional.Service
	hub                 http.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	mux.Handle("GET /api/professionals/{id}", s.requireAuth(s.handleProfessional))
	mux.Handle("PUT /api/professionals/{id}/specializations", s.requireAuth(s.handleSpecializations))
	mux.Handle("GET /api/professionals/{id}/cases", s.requireAuth(s.handleAssigned))
	mux.Handle("GET /api/professionals/{id}/recommended", s.requireAuth(s.handleRecommended))
	mux.Handle("GET /api/professionals/{id}/offers", s.requireAuth(s.handleOffers))

	mux.Handle("POST /api/cases", s.requireAuth(s.handleCreateCase))
	mux.Handle("GET /api/cases/{id}", s.requireAuth(s.handleCase))
	mux.Handle("DELETE /api/cases/{id}", s.requireAuth(s.handleDeleteCase))
	mux.Handle("POST /api/cases/{id}/status", s.requireAuth(s.handleTransition))
	mux.Handle("POST /api/cases/{id}/target", s.requireAuth(s.handleTarget))
	mux.Handle("POST /api/cases/{id}/respond", s.requireAuth(s.handleRespond))
	mux.Handle("POST /api/cases/{id}/offers", s.requireAuth(s.handleSubmitOffer))
	mux.Handle("POST /api/offers/{id}/withdraw", s.requireAuth(s.handleWithdrawOffer))
	mux.Handle("POST /api/offers/{id}/accept", s.requireAuth(s.handleAcceptOffer))

	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, id.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, id.Role)
		next(w, r.WithContext(ctx))
	})
}

func caller(r *http.Request) (int64, auth.Role) {
	id, _ := r.Context().Value(ctxKeyUserID).(int64)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return id, role
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// self resolves the {id} path segment and requires it to be the caller.
func self(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid professional id")
		return 0, false
	}
	if uid, _ := caller(r); uid != id {
		writeError(w, http.StatusForbidden, "forbidden")
		return 0, false
	}
	return id, true
}

func requireRole(w http.ResponseWriter, r *http.Request, role auth.Role) (int64, bool) {
	uid, got := caller(r)
	if got != role {
		writeError(w, http.StatusForbidden, "requires role "+string(role))
		return 0, false
	}
	return uid, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bulkapi.ProfileDTO{
		ID:              user.ID,
		FullName:        user.FullName,
		Specializations: nonNil(user.Specializations),
		Verified:        user.Verified,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req bulkapi.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.authService.Login(r.Context(), auth.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.LoginResponse{Token: res.Token, Role: string(res.User.Role), ID: res.User.ID})
}

func (s *Server) handleProfessional(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid professional id")
		return
	}
	p, err := s.professionalService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.FromProfile(p))
}

func (s *Server) handleSpecializations(w http.ResponseWriter, r *http.Request) {
	id, ok := self(w, r)
	if !ok {
		return
	}
	var req struct {
		Specializations string `json:"specializations"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := s.professionalService.UpdateSpecializations(r.Context(), id, req.Specializations)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.FromProfile(p))
}

func (s *Server) handleAssigned(w http.ResponseWriter, r *http.Request) {
	id, ok := self(w, r)
	if !ok {
		return
	}
	list, err := s.caseRepo.ListAssigned(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.NewList(bulkapi.FromCases(list)))
}

func (s *Server) handleRecommended(w http.ResponseWriter, r *http.Request) {
	id, ok := self(w, r)
	if !ok {
		return
	}
	p, err := s.professionalService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.caseRepo.ListRecommended(r.Context(), cases.Filters{
		ProfessionalID:  id,
		Specializations: p.Specializations,
		Limit:           limit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.NewList(bulkapi.FromCases(list)))
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	id, ok := self(w, r)
	if !ok {
		return
	}
	list, err := s.offerRepo.ListForProfessional(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.NewList(bulkapi.FromOffers(list)))
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireRole(w, r, auth.RoleClient)
	if !ok {
		return
	}
	var req bulkapi.CreateCaseRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	c, err := s.caseRepo.Create(r.Context(), cases.CreateParams{
		ClientID:    uid,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bulkapi.FromCase(c))
}

func (s *Server) handleCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid case id")
		return
	}
	d, err := s.caseRepo.GetDetail(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.FromDetail(d))
}

func (s *Server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireRole(w, r, auth.RoleClient)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid case id")
		return
	}
	if err := s.statusService.Delete(r.Context(), id, uid); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid case id")
		return
	}
	var req bulkapi.StatusRequest
	if !decode(w, r, &req) {
		return
	}
	next := cases.ParseStatus(req.Status)
	if next == cases.StatusUnknown {
		writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}
	uid, role := caller(r)
	status, err := s.statusService.Transition(r.Context(), cases.TransitionParams{
		CaseID:     id,
		ActorID:    uid,
		ActorRole:  string(role),
		NextStatus: next,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.StatusRequest{Status: string(status)})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireRole(w, r, auth.RoleClient)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid case id")
		return
	}
	var req bulkapi.TargetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ProfessionalID <= 0 {
		writeError(w, http.StatusBadRequest, "professionalId is required")
		return
	}
	if err := s.statusService.Target(r.Context(), id, uid, req.ProfessionalID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireRole(w, r, auth.RoleProfessional)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid case id")
		return
	}
	var req bulkapi.RespondRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := s.statusService.Respond(r.Context(), id, uid, req.Accept)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.StatusRequest{Status: string(status)})
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireRole(w, r, auth.RoleProfessional)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid case id")
		return
	}
	var req bulkapi.SubmitOfferRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.offerRepo.Submit(r.Context(), offer.SubmitParams{CaseID: id, ProfessionalID: uid, FeeCents: req.FeeCents})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bulkapi.FromOffer(o))
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireRole(w, r, auth.RoleProfessional)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}
	o, err := s.offerRepo.Withdraw(r.Context(), id, uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.FromOffer(o))
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireRole(w, r, auth.RoleClient)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}
	o, err := s.offerRepo.Accept(r.Context(), id, uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkapi.FromOffer(o))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cases.ErrNotFound), errors.Is(err, offer.ErrNotFound), errors.Is(err, professional.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cases.ErrForbidden), errors.Is(err, offer.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, offer.ErrActiveOfferExists), errors.Is(err, offer.ErrAlreadyAccepted),
		errors.Is(err, offer.ErrNotSubmitted), errors.Is(err, offer.ErrCaseNotOpen),
		errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, cases.ErrInvalidTransition), errors.Is(err, cases.ErrNotTargetable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, offer.ErrInvalidFee), errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("api: %v", err)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, bulkapi.ErrorDTO{Error: message})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
