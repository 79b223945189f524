package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper"
	"github.com/MrEthical07/gatekeeper/middleware"
)

type api struct {
	engine *gatekeeper.Engine
	logger *zap.Logger
}

func newAPI(engine *gatekeeper.Engine, logger *zap.Logger) *api {
	return &api{engine: engine, logger: logger.Named("api")}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/login", a.login)
	mux.HandleFunc("POST /v1/login/second-factor", a.verifySecondFactor)
	mux.HandleFunc("POST /v1/login/second-factor/code", a.sendCode)
	mux.HandleFunc("POST /v1/login/role", a.selectRole)

	guard := middleware.RequireSession(a.engine)
	mux.Handle("GET /v1/me/factors", guard(http.HandlerFunc(a.factorStatus)))
	mux.Handle("POST /v1/me/factors/authenticator/confirm", guard(http.HandlerFunc(a.confirmAuthenticator)))
	mux.Handle("POST /v1/me/factors/{kind}", guard(http.HandlerFunc(a.setupFactor)))
	mux.Handle("DELETE /v1/me/factors/{kind}", guard(http.HandlerFunc(a.disableFactor)))
	mux.Handle("POST /v1/me/backup-codes", guard(http.HandlerFunc(a.regenerateBackupCodes)))
	mux.Handle("GET /v1/me/attempts", guard(http.HandlerFunc(a.recentAttempts)))
	mux.Handle("GET /v1/me/devices", guard(http.HandlerFunc(a.listDevices)))
	mux.Handle("POST /v1/me/devices/{id}/block", guard(http.HandlerFunc(a.blockDevice)))
	mux.Handle("POST /v1/me/devices/{id}/unblock", guard(http.HandlerFunc(a.unblockDevice)))
	mux.Handle("DELETE /v1/me/devices/{id}", guard(http.HandlerFunc(a.revokeDevice)))
	mux.Handle("DELETE /v1/me/devices", guard(http.HandlerFunc(a.revokeOtherDevices)))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type secondFactorRequest struct {
	Token  string                  `json:"token"`
	Method gatekeeper.FactorMethod `json:"method"`
	Proof  gatekeeper.Proof        `json:"proof"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type roleRequest struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.Login(r.Context(), req.Email, req.Password, middleware.DefaultFingerprint(r))
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) verifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.VerifySecondFactor(r.Context(), req.Token, req.Method, req.Proof, middleware.DefaultFingerprint(r))
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) sendCode(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	err := a.engine.SendSecondFactorCode(r.Context(), req.Token)
	a.respond(w, http.StatusAccepted, nil, err)
}

func (a *api) selectRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.SelectRole(r.Context(), req.Token, req.Role, middleware.DefaultFingerprint(r))
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) factorStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	res, err := a.engine.GetStatus(r.Context(), claims.UserID)
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) setupFactor(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	var payload gatekeeper.SetupPayload
	if r.ContentLength != 0 && !decode(w, r, &payload) {
		return
	}
	kind := gatekeeper.FactorKind(r.PathValue("kind"))
	res, err := a.engine.SetupFactor(r.Context(), claims.UserID, kind, payload)
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) confirmAuthenticator(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.ConfirmAuthenticator(r.Context(), claims.UserID, req.Code)
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) disableFactor(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	err := a.engine.DisableFactor(r.Context(), claims.UserID, gatekeeper.FactorKind(r.PathValue("kind")))
	a.respond(w, http.StatusNoContent, nil, err)
}

func (a *api) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	codes, err := a.engine.RegenerateBackupCodes(r.Context(), claims.UserID)
	a.respond(w, http.StatusOK, map[string][]string{"backup_codes": codes}, err)
}

func (a *api) recentAttempts(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	res, err := a.engine.RecentAttempts(r.Context(), claims.UserID)
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) listDevices(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	res, err := a.engine.ListDevices(r.Context(), claims.UserID, middleware.DefaultFingerprint(r))
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) blockDevice(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	err := a.engine.BlockDevice(r.Context(), claims.UserID, r.PathValue("id"), middleware.DefaultFingerprint(r))
	a.respond(w, http.StatusNoContent, nil, err)
}

func (a *api) unblockDevice(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	err := a.engine.UnblockDevice(r.Context(), claims.UserID, r.PathValue("id"), middleware.DefaultFingerprint(r))
	a.respond(w, http.StatusNoContent, nil, err)
}

func (a *api) revokeDevice(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	err := a.engine.RevokeDevice(r.Context(), claims.UserID, r.PathValue("id"), middleware.DefaultFingerprint(r))
	a.respond(w, http.StatusNoContent, nil, err)
}

func (a *api) revokeOtherDevices(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())
	n, err := a.engine.RevokeOtherDevices(r.Context(), claims.UserID, middleware.DefaultFingerprint(r))
	a.respond(w, http.StatusOK, map[string]int{"revoked": n}, err)
}

func (a *api) respond(w http.ResponseWriter, status int, body interface{}, err error) {
	if err != nil {
		if middleware.StatusFor(err) >= http.StatusInternalServerError {
			a.logger.Warn("request failed", zap.String("code", gatekeeper.ErrorCode(err)), zap.Error(err))
		}
		middleware.WriteError(w, err)
		return
	}
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Debug("write response", zap.Error(err))
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteError(w, fmt.Errorf("%w: malformed request body", gatekeeper.ErrValidation))
		return false
	}
	return true
}
