package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

type Server struct {
	svc     *application.LedgerService
	ping    func(ctx context.Context) error
	timeout time.Duration
}

func NewServer(svc *application.LedgerService) *Server { return &Server{svc: svc} }

// SetReadyCheck installs the probe behind /readyz.
func (s *Server) SetReadyCheck(ping func(ctx context.Context) error) { s.ping = ping }

// SetRequestTimeout bounds every API request; zero disables the bound.
func (s *Server) SetRequestTimeout(d time.Duration) { s.timeout = d }

type openAccountRequest struct {
	Owner    string `json:"owner"`
	Currency string `json:"currency"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type transferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        int64  `json:"amount"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var body openAccountRequest
	if !decode(w, r, &body) {
		return
	}
	acc, err := s.svc.OpenAccount(r.Context(), body.Owner, body.Currency)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "account opened", acc)
}

func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.svc.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok", acc)
}

func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	var body amountRequest
	if !decode(w, r, &body) {
		return
	}
	acc, err := s.svc.Deposit(r.Context(), chi.URLParam(r, "id"), body.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "deposited", acc)
}

func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	var body amountRequest
	if !decode(w, r, &body) {
		return
	}
	acc, err := s.svc.Withdraw(r.Context(), chi.URLParam(r, "id"), body.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "withdrawn", acc)
}

func (s *Server) ListTransfers(w http.ResponseWriter, r *http.Request) {
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		badRequest(w, "invalid limit")
		return
	}
	list, err := s.svc.ListTransfers(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Transfer{}
	}
	writeJSON(w, http.StatusOK, "ok", list)
}

func (s *Server) Transfer(w http.ResponseWriter, r *http.Request) {
	var body transferRequest
	if !decode(w, r, &body) {
		return
	}
	t, err := s.svc.Transfer(r.Context(), application.TransferRequest{
		From:           body.FromAccountID,
		To:             body.ToAccountID,
		Amount:         body.Amount,
		IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "transfer completed", t)
}
