package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cashumint/core/cashu"
	"github.com/cashumint/core/cashu/nuts/nut01"
	"github.com/cashumint/core/cashu/nuts/nut03"
	"github.com/cashumint/core/cashu/nuts/nut04"
	"github.com/cashumint/core/cashu/nuts/nut05"
	"github.com/cashumint/core/cashu/nuts/nut07"
	"github.com/cashumint/core/cashu/nuts/nut09"
	"github.com/cashumint/core/crypto"
	"github.com/gorilla/mux"
)

// ServerConfig configures the public NUT HTTP surface.
type ServerConfig struct {
	Port int
	// MeltTimeout bounds how long a melt request blocks on the lightning
	// backend before the HTTP handler returns the quote's current
	// (possibly still pending) state. Nil means no timeout.
	MeltTimeout *time.Duration
}

// MintServer exposes a Mint over the NUT-04/05/03/07/09 wallet-facing
// HTTP API consumed by the wallet package.
type MintServer struct {
	httpServer *http.Server
	mint       *Mint
	config     ServerConfig
}

func SetupMintServer(mint *Mint, config ServerConfig) (*MintServer, error) {
	mintServer := &MintServer{
		mint:   mint,
		config: config,
	}
	mintServer.setupHttpServer()
	return mintServer, nil
}

func (ms *MintServer) Start() error {
	err := ms.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (ms *MintServer) Shutdown() error {
	return ms.httpServer.Shutdown(context.Background())
}

func (ms *MintServer) setupHttpServer() {
	r := mux.NewRouter()

	r.HandleFunc("/v1/info", ms.getInfo).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/keys", ms.getActiveKeys).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/keys/{id}", ms.getKeysById).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/keysets", ms.getKeysets).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/mint/quote/{method}", ms.mintQuote).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/mint/quote/{method}/{id}", ms.mintQuoteState).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/mint/{method}", ms.mintTokens).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/mint/batch/{method}", ms.batchMintTokens).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/melt/quote/{method}", ms.meltQuote).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/melt/quote/{method}/{id}", ms.meltQuoteState).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/melt/{method}", ms.meltTokens).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/swap", ms.swap).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/checkstate", ms.checkState).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/restore", ms.restore).Methods(http.MethodPost, http.MethodOptions)

	r.Use(setupHeaders)

	ms.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%v", ms.config.Port),
		Handler: r,
	}
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(rw, req)
	})
}

// writeError replies with the wallet-expected shape: a cashu.Error body on
// HTTP 400 for domain errors, a raw message on 500 for anything else.
func writeError(rw http.ResponseWriter, err error) {
	var cashuErr cashu.Error
	switch e := err.(type) {
	case cashu.Error:
		cashuErr = e
	case *cashu.Error:
		cashuErr = *e
	default:
		rw.WriteHeader(http.StatusInternalServerError)
		rw.Write([]byte(err.Error()))
		return
	}

	rw.WriteHeader(http.StatusBadRequest)
	res, _ := json.Marshal(cashuErr)
	rw.Write(res)
}

func writeJSON(rw http.ResponseWriter, v any) {
	res, err := json.Marshal(v)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		rw.Write([]byte(err.Error()))
		return
	}
	rw.Write(res)
}

func (ms *MintServer) getInfo(rw http.ResponseWriter, req *http.Request) {
	info, err := ms.mint.RetrieveMintInfo()
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, info)
}

func (ms *MintServer) getActiveKeys(rw http.ResponseWriter, req *http.Request) {
	keyset := ms.mint.GetActiveKeyset()
	writeJSON(rw, buildKeysResponse(keyset))
}

func (ms *MintServer) getKeysById(rw http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	keyset, ok := ms.mint.GetKeysetById(id)
	if !ok {
		writeError(rw, cashu.UnknownKeysetErr)
		return
	}
	writeJSON(rw, buildKeysResponse(keyset))
}

func buildKeysResponse(keyset crypto.MintKeyset) nut01.GetKeysResponse {
	publicKeys := make(crypto.PublicKeys, len(keyset.Keys))
	for amount, keypair := range keyset.Keys {
		publicKeys[amount] = keypair.PublicKey
	}

	return nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{
			{Id: keyset.Id, Unit: keyset.Unit, Keys: publicKeys},
		},
	}
}

func (ms *MintServer) getKeysets(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, ms.mint.ListKeysets())
}

func (ms *MintServer) mintQuote(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]

	var mintQuoteRequest nut04.PostMintQuoteBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&mintQuoteRequest); err != nil {
		writeError(rw, cashu.BuildCashuError("malformed request", cashu.StandardErrCode))
		return
	}

	quote, err := ms.mint.RequestMintQuote(method, mintQuoteRequest.Amount, mintQuoteRequest.Unit)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut04.PostMintQuoteBolt11Response{
		Quote:   quote.Id,
		Request: quote.PaymentRequest,
		Paid:    quote.State == nut04.Paid || quote.State == nut04.Issued,
		State:   quote.State,
		Expiry:  int64(quote.Expiry),
	})
}

func (ms *MintServer) mintQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	quote, err := ms.mint.GetMintQuoteState(vars["method"], vars["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut04.PostMintQuoteBolt11Response{
		Quote:   quote.Id,
		Request: quote.PaymentRequest,
		Paid:    quote.State == nut04.Paid || quote.State == nut04.Issued,
		State:   quote.State,
		Expiry:  int64(quote.Expiry),
	})
}

func (ms *MintServer) mintTokens(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]

	var mintRequest nut04.PostMintBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&mintRequest); err != nil {
		writeError(rw, cashu.BuildCashuError("malformed request", cashu.StandardErrCode))
		return
	}

	signatures, err := ms.mint.MintTokens(method, mintRequest.Quote, mintRequest.Outputs)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut04.PostMintBolt11Response{Signatures: signatures})
}

// batchMintTokens handles the spec's multi-quote batch-mint extension: a
// single outputs set split across several already-paid quotes, signed and
// committed atomically.
func (ms *MintServer) batchMintTokens(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]

	var batchRequest BatchMintRequest
	if err := json.NewDecoder(req.Body).Decode(&batchRequest); err != nil {
		writeError(rw, cashu.BuildCashuError("malformed request", cashu.StandardErrCode))
		return
	}

	signatures, err := ms.mint.BatchMintTokens(method, batchRequest)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, BatchMintResponse{Signatures: signatures})
}

func (ms *MintServer) swap(rw http.ResponseWriter, req *http.Request) {
	var swapRequest nut03.PostSwapRequest
	if err := json.NewDecoder(req.Body).Decode(&swapRequest); err != nil {
		writeError(rw, cashu.BuildCashuError("malformed request", cashu.StandardErrCode))
		return
	}

	signatures, err := ms.mint.Swap(swapRequest.Inputs, swapRequest.Outputs)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut03.PostSwapResponse{Signatures: signatures})
}

func (ms *MintServer) meltQuote(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]

	var meltQuoteRequest nut05.PostMeltQuoteBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&meltQuoteRequest); err != nil {
		writeError(rw, cashu.BuildCashuError("malformed request", cashu.StandardErrCode))
		return
	}

	quote, err := ms.mint.RequestMeltQuote(method, meltQuoteRequest.Request, meltQuoteRequest.Unit)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut05.PostMeltQuoteBolt11Response{
		Quote:      quote.Id,
		Amount:     quote.Amount,
		FeeReserve: quote.FeeReserve,
		Paid:       quote.State == nut05.Paid,
		State:      quote.State,
		Expiry:     int64(quote.Expiry),
	})
}

func (ms *MintServer) meltQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	ctx, cancel := ms.meltContext(req.Context())
	defer cancel()

	quote, err := ms.mint.GetMeltQuoteState(ctx, vars["method"], vars["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut05.PostMeltQuoteBolt11Response{
		Quote:      quote.Id,
		Amount:     quote.Amount,
		FeeReserve: quote.FeeReserve,
		Paid:       quote.State == nut05.Paid,
		State:      quote.State,
		Expiry:     int64(quote.Expiry),
	})
}

func (ms *MintServer) meltTokens(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]

	var meltRequest nut05.PostMeltBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&meltRequest); err != nil {
		writeError(rw, cashu.BuildCashuError("malformed request", cashu.StandardErrCode))
		return
	}

	ctx, cancel := ms.meltContext(req.Context())
	defer cancel()

	quote, change, err := ms.mint.MeltTokens(ctx, method, meltRequest.Quote, meltRequest.Inputs, meltRequest.Outputs)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut05.PostMeltBolt11Response{
		Paid:     quote.State == nut05.Paid,
		State:    quote.State,
		Preimage: quote.Preimage,
		Change:   change,
	})
}

func (ms *MintServer) meltContext(parent context.Context) (context.Context, context.CancelFunc) {
	if ms.config.MeltTimeout == nil {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, *ms.config.MeltTimeout)
}

func (ms *MintServer) checkState(rw http.ResponseWriter, req *http.Request) {
	var stateRequest nut07.PostCheckStateRequest
	if err := json.NewDecoder(req.Body).Decode(&stateRequest); err != nil {
		writeError(rw, cashu.BuildCashuError("malformed request", cashu.StandardErrCode))
		return
	}

	states, err := ms.mint.ProofsStateCheck(stateRequest.Ys)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut07.PostCheckStateResponse{States: states})
}

func (ms *MintServer) restore(rw http.ResponseWriter, req *http.Request) {
	var restoreRequest nut09.PostRestoreRequest
	if err := json.NewDecoder(req.Body).Decode(&restoreRequest); err != nil {
		writeError(rw, cashu.BuildCashuError("malformed request", cashu.StandardErrCode))
		return
	}

	outputs, signatures, err := ms.mint.RestoreSignatures(restoreRequest.Outputs)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, nut09.PostRestoreResponse{Outputs: outputs, Signatures: signatures})
}
