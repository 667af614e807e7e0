package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/moneyfestation-dev/manifest-wall/internal/logging"
	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/service"
)

// AdminTokenHeader carries the node admin token on privileged routes.
const AdminTokenHeader = "X-Wall-Admin-Token"

type WallNodeHandler struct {
	service      *service.WallNode
	maxBodyBytes int64
}

func NewWallNodeHandler(svc *service.WallNode, maxBodyBytes int64) *WallNodeHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &WallNodeHandler{service: svc, maxBodyBytes: maxBodyBytes}
}

func (h *WallNodeHandler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/transactions", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/v1/transactions/{signature}", h.handleGetReceipt).Methods(http.MethodGet)
	r.HandleFunc("/v1/accounts/{address}", h.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/v1/accounts/{address}/airdrop", h.handleAirdrop).Methods(http.MethodPost)
	r.HandleFunc("/v1/walls/{owner}/{wall_id}", h.handleGetWall).Methods(http.MethodGet)
	r.HandleFunc("/v1/events", h.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/events/head", h.handleEventHead).Methods(http.MethodGet)
	r.HandleFunc("/v1/events/{seq:[0-9]+}/proof", h.handleEventProof).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, service.NotFound("route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, service.NewAppError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", false, nil))
	})
	return r
}

func (h *WallNodeHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Health(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "health")
	logging.AddField(r.Context(), "latest_seq", resp.LatestSeq)
	writeJSON(w, http.StatusOK, resp)
}

func (h *WallNodeHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req protocol.SubmitTransactionRequest
	if err := decodeJSON(r, h.maxBodyBytes, &req); err != nil {
		writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	logging.AddField(r.Context(), "op", "submit_transaction")
	receipt, err := h.service.SubmitTransaction(r.Context(), req)
	if receipt.Signature != "" {
		logging.AddField(r.Context(), "tx_signature", receipt.Signature)
		logging.AddField(r.Context(), "tx_status", receipt.Status)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "event_count", len(receipt.EventSeqs))
	writeJSON(w, http.StatusOK, receipt)
}

func (h *WallNodeHandler) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	signature := mux.Vars(r)["signature"]
	receipt, err := h.service.GetReceipt(r.Context(), signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get_receipt")
	logging.AddField(r.Context(), "tx_signature", signature)
	writeJSON(w, http.StatusOK, receipt)
}

func (h *WallNodeHandler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	address, ok := pathPubkey(w, r, "address")
	if !ok {
		return
	}
	resp, err := h.service.GetAccount(r.Context(), address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get_account")
	logging.AddField(r.Context(), "address", address.String())
	writeJSON(w, http.StatusOK, resp)
}

func (h *WallNodeHandler) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get(AdminTokenHeader))
	if !h.service.VerifyAdminToken(token) {
		writeError(w, r, service.NewAppError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", false, nil))
		return
	}
	address, ok := pathPubkey(w, r, "address")
	if !ok {
		return
	}
	var req protocol.AirdropRequest
	if err := decodeJSON(r, h.maxBodyBytes, &req); err != nil {
		writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	resp, err := h.service.Airdrop(r.Context(), address, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "airdrop")
	logging.AddField(r.Context(), "address", address.String())
	logging.AddField(r.Context(), "lamports", req.Lamports)
	writeJSON(w, http.StatusOK, resp)
}

func (h *WallNodeHandler) handleGetWall(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathPubkey(w, r, "owner")
	if !ok {
		return
	}
	wallID, err := strconv.ParseUint(mux.Vars(r)["wall_id"], 10, 64)
	if err != nil {
		writeError(w, r, service.BadRequest("wall_id must be an unsigned 64-bit integer", err))
		return
	}
	resp, err := h.service.GetWall(r.Context(), owner, wallID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get_wall")
	logging.AddField(r.Context(), "wall", resp.Address.String())
	writeJSON(w, http.StatusOK, resp)
}

func (h *WallNodeHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after int64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, service.BadRequest("after must be an integer", err))
			return
		}
		after = v
	}
	var limit int
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, r, service.BadRequest("limit must be a non-negative integer", err))
			return
		}
		limit = v
	}
	page, err := h.service.ListEvents(r.Context(), after, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "list_events")
	logging.AddField(r.Context(), "after", after)
	logging.AddField(r.Context(), "returned", len(page.Events))
	writeJSON(w, http.StatusOK, page)
}

func (h *WallNodeHandler) handleEventHead(w http.ResponseWriter, r *http.Request) {
	head, err := h.service.EventHead(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "event_head")
	logging.AddField(r.Context(), "tree_size", head.TreeSize)
	writeJSON(w, http.StatusOK, head)
}

func (h *WallNodeHandler) handleEventProof(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseInt(mux.Vars(r)["seq"], 10, 64)
	if err != nil {
		writeError(w, r, service.BadRequest("seq must be an integer", err))
		return
	}
	proof, err := h.service.EventProof(r.Context(), seq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "event_proof")
	logging.AddField(r.Context(), "seq", seq)
	writeJSON(w, http.StatusOK, proof)
}

func pathPubkey(w http.ResponseWriter, r *http.Request, name string) (protocol.Pubkey, bool) {
	key, err := protocol.ParsePubkey(mux.Vars(r)[name])
	if err != nil {
		writeError(w, r, service.BadRequest(name+" is not a valid base58 public key", err))
		return protocol.Pubkey{}, false
	}
	return key, true
}
