package mint

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/cashumint/core/cashu"
	"github.com/cashumint/core/cashu/nuts/nut04"
	"github.com/cashumint/core/cashu/nuts/nut20"
	"github.com/cashumint/core/mint/storage"
)

// BatchMintRequest is the wire shape for a batched mint covering several
// quotes in one atomic call. QuoteIds must be pairwise distinct and share
// payment method and unit; Signatures, if present, are hex-encoded NUT-20
// mint quote signatures, one per quote id that carries a locking pubkey, in
// the same order as QuoteIds.
type BatchMintRequest struct {
	QuoteIds   []string              `json:"quote_ids"`
	Outputs    cashu.BlindedMessages `json:"outputs"`
	Signatures []string              `json:"signatures,omitempty"`
}

type BatchMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

// BatchMintTokens signs outputs across multiple paid mint quotes atomically:
// either all quotes end up Issued and all outputs signed, or none do.
// The outputs must sum exactly to the quotes' combined amount; they are
// checked against that total only, not split per quote, and every quote is
// marked Issued once all outputs are signed.
func (m *Mint) BatchMintTokens(method string, req BatchMintRequest) (cashu.BlindedSignatures, error) {
	if method != BOLT11_METHOD {
		return nil, cashu.PaymentMethodNotSupportedErr
	}
	if len(req.QuoteIds) == 0 {
		return nil, cashu.BuildCashuError("no quote ids provided", cashu.StandardErrCode)
	}

	seen := make(map[string]bool, len(req.QuoteIds))
	quotes := make([]storage.MintQuote, len(req.QuoteIds))
	var totalMintable uint64
	for i, id := range req.QuoteIds {
		if seen[id] {
			return nil, cashu.BuildCashuError("duplicate quote id: "+id, cashu.StandardErrCode)
		}
		seen[id] = true

		quote, err := m.db.GetMintQuote(id)
		if err != nil {
			return nil, cashu.QuoteNotExistErr
		}
		if quote.State == nut04.Issued {
			return nil, cashu.MintQuoteAlreadyIssued
		}
		if quote.State != nut04.Paid {
			return nil, cashu.MintQuoteRequestNotPaid
		}

		quotes[i] = quote
		totalMintable += quote.Amount
	}

	locked := quotes[0].Pubkey != nil
	for _, quote := range quotes[1:] {
		if (quote.Pubkey != nil) != locked {
			return nil, cashu.BuildCashuError("batched quotes must be either all locked or all unlocked", cashu.StandardErrCode)
		}
	}

	var outputsAmount uint64
	B_s := make([]string, len(req.Outputs))
	for i, bm := range req.Outputs {
		outputsAmount += bm.Amount
		B_s[i] = bm.B_
	}
	if outputsAmount != totalMintable {
		return nil, cashu.BuildCashuError(
			fmt.Sprintf("outputs amount %v does not match total mintable amount %v", outputsAmount, totalMintable),
			cashu.OutputsOverQuoteAmountErr.Code,
		)
	}

	for i, quote := range quotes {
		if quote.Pubkey == nil {
			continue
		}
		if i >= len(req.Signatures) {
			return nil, cashu.MintQuoteInvalidSigErr
		}
		sigBytes, err := hex.DecodeString(req.Signatures[i])
		if err != nil {
			return nil, cashu.MintQuoteInvalidSigErr
		}
		signature, err := schnorr.ParseSignature(sigBytes)
		if err != nil {
			return nil, cashu.MintQuoteInvalidSigErr
		}
		if !nut20.VerifyMintQuoteSignature(signature, quote.Id, req.Outputs, quote.Pubkey) {
			return nil, cashu.MintQuoteInvalidSigErr
		}
	}

	sigs, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		errmsg := fmt.Sprintf("error getting blind signatures from db: %v", err)
		return nil, cashu.BuildCashuError(errmsg, cashu.DBErrCode)
	}
	if len(sigs) > 0 {
		return nil, cashu.BlindedMessageAlreadySigned
	}

	blindedSignatures, err := m.signBlindedMessages(req.Outputs)
	if err != nil {
		return nil, err
	}

	for _, quote := range quotes {
		if err := m.db.UpdateMintQuoteState(quote.Id, nut04.Issued); err != nil {
			errmsg := fmt.Sprintf("error updating mint quote '%v' state: %v", quote.Id, err)
			return nil, cashu.BuildCashuError(errmsg, cashu.DBErrCode)
		}
	}

	return blindedSignatures, nil
}
