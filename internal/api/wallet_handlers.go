package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coinharbor/custody/internal/hdkey"
	"github.com/coinharbor/custody/internal/registry"
	"github.com/coinharbor/custody/internal/storage"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// WalletResponse represents a wallet in API responses
type WalletResponse struct {
	ID              uuid.UUID  `json:"id"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	Currency        string     `json:"currency"`
	Network         string     `json:"network"`
	Tier            string     `json:"tier"`
	Address         string     `json:"address"`
	PublicKey       string     `json:"public_key,omitempty"`
	DerivationPath  string     `json:"derivation_path"`
	AddressIndex    uint32     `json:"address_index"`
	ParentID        *uuid.UUID `json:"parent_id,omitempty"`
	SignersRequired int        `json:"signers_required,omitempty"`
	SignerKeys      []string   `json:"signer_keys,omitempty"`
	Status          string     `json:"status"`
	IsPrimary       bool       `json:"is_primary"`
	Balance         string     `json:"balance"`
	PendingBalance  string     `json:"pending_balance"`
	RiskScore       int        `json:"risk_score"`
	CreatedAt       time.Time  `json:"created_at"`
}

func walletResponse(w *types.Wallet) WalletResponse {
	return WalletResponse{
		ID:              w.ID,
		UserID:          w.UserID,
		Currency:        string(w.Currency),
		Network:         w.Network,
		Tier:            string(w.Tier),
		Address:         w.Address,
		PublicKey:       w.PubKey,
		DerivationPath:  w.DerivationPath,
		AddressIndex:    w.AddressIndex,
		ParentID:        w.ParentID,
		SignersRequired: w.SignersRequired,
		SignerKeys:      w.SignerKeys,
		Status:          string(w.Status),
		IsPrimary:       w.IsPrimary,
		Balance:         w.Balance.String(),
		PendingBalance:  w.PendingBalance.String(),
		RiskScore:       w.RiskScore,
		CreatedAt:       w.CreatedAt,
	}
}

// CreateWalletRequest represents the wallet creation request
type CreateWalletRequest struct {
	UserID   *uuid.UUID             `json:"user_id,omitempty"`
	Currency string                 `json:"currency"`
	Tier     string                 `json:"tier"`
	Primary  bool                   `json:"primary,omitempty"`
	Multisig *MultisigConfigRequest `json:"multisig,omitempty"`
}

// MultisigConfigRequest configures an m-of-n wallet. The house key counts
// toward n; cosigner keys are compressed secp256k1 public keys in hex.
type MultisigConfigRequest struct {
	Threshold    int      `json:"threshold"`
	CosignerKeys []string `json:"cosigner_keys"`
}

// handleWallets routes /v1/wallets
func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateWallet(w, r)
	case http.MethodGet:
		s.handleListWallets(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	createReq := &registry.CreateWalletRequest{
		UserID:   req.UserID,
		Currency: types.Currency(req.Currency),
		Tier:     types.Tier(req.Tier),
		Primary:  req.Primary,
	}
	if req.Multisig != nil {
		createReq.Multisig = &hdkey.MultisigOptions{
			Threshold:    req.Multisig.Threshold,
			CosignerKeys: req.Multisig.CosignerKeys,
		}
	}

	wallet, err := s.registry.CreateWallet(r.Context(), createReq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletResponse(wallet))
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, err := uuid.Parse(q.Get("user_id"))
	if err != nil {
		writeError(w, r, apperrors.Validation("user_id query parameter is required"))
		return
	}

	var filter storage.WalletFilter
	if v := q.Get("currency"); v != "" {
		c := types.Currency(v)
		filter.Currency = &c
	}
	if v := q.Get("tier"); v != "" {
		t := types.Tier(v)
		filter.Tier = &t
	}
	if v := q.Get("status"); v != "" {
		st := types.WalletStatus(v)
		filter.Status = &st
	}

	wallets, err := s.registry.ListWallets(r.Context(), userID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]WalletResponse, 0, len(wallets))
	for _, wal := range wallets {
		out = append(out, walletResponse(wal))
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": out})
}

// handleWalletOperations routes /v1/wallets/{id} and /v1/wallets/{id}/{action}
func (s *Server) handleWalletOperations(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/wallets/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, apperrors.ErrNotFound)
		return
	}

	walletID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, r, apperrors.Validation("invalid wallet id"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleGetWallet(w, r, walletID)
		return
	}

	if len(parts) != 2 {
		writeError(w, r, apperrors.ErrNotFound)
		return
	}

	action := parts[1]
	switch action {
	case "notes":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleListNotes(w, r, walletID)
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	switch action {
	case "addresses":
		s.handleRotateAddress(w, r, walletID)
	case "primary":
		s.handleSetPrimary(w, r, walletID)
	case "activate":
		s.handleActivateMultisig(w, r, walletID)
	case "freeze":
		s.adminOnly(w, r, func() { s.handleFreeze(w, r, walletID) })
	case "unfreeze":
		s.adminOnly(w, r, func() { s.handleUnfreeze(w, r, walletID) })
	case "audit":
		s.adminOnly(w, r, func() { s.handleRecordAudit(w, r, walletID) })
	default:
		writeError(w, r, apperrors.ErrNotFound)
	}
}

// adminOnly gates operator actions nested under the wallet router, where
// blanket middleware cannot apply.
func (s *Server) adminOnly(w http.ResponseWriter, r *http.Request, fn func()) {
	presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if presented == "" || s.config.AdminToken == "" ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(s.config.AdminToken)) != 1 {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}
	fn()
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	wallet, err := s.registry.GetWallet(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse(wallet))
}

func (s *Server) handleRotateAddress(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	child, err := s.registry.GenerateNextAddress(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletResponse(child))
}

func (s *Server) handleSetPrimary(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	wallet, err := s.registry.SetPrimary(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse(wallet))
}

func (s *Server) handleActivateMultisig(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	wallet, err := s.registry.ActivateMultisig(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse(wallet))
}
