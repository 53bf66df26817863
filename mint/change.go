package mint

import (
	"fmt"
	"sort"

	"github.com/cashumint/core/cashu"
)

// prepareMeltChange blind-signs the change outputs a wallet submitted with
// a melt request before payment is attempted, and persists which outputs
// were promised for the quote. If the mint crashes between payment and
// change-issuance, the same outputs are resigned deterministically from
// what's already stored in blind_signatures instead of being signed twice.
func (m *Mint) prepareMeltChange(quoteId string, changeOutputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if len(changeOutputs) == 0 {
		return cashu.BlindedSignatures{}, nil
	}

	existing, err := m.db.GetMeltChangeOutputs(quoteId)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error reading stored change outputs: %v", err), cashu.DBErrCode)
	}
	if len(existing) > 0 {
		changeOutputs = existing
	} else if err := m.db.SaveMeltChangeOutputs(quoteId, changeOutputs); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error saving change outputs: %v", err), cashu.DBErrCode)
	}

	B_s := make([]string, len(changeOutputs))
	for i, msg := range changeOutputs {
		B_s[i] = msg.B_
	}
	sigs, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error reading blind signatures: %v", err), cashu.DBErrCode)
	}
	if len(sigs) == len(changeOutputs) {
		return sigs, nil
	}

	return m.signBlindedMessages(changeOutputs)
}

// selectChange walks the already-signed change outputs in descending-amount
// order and keeps each one that still fits under overpaid, skipping any
// output that would push the running sum past it. The skipped outputs stay
// signed in the db (replayable) but are never handed to the wallet, so
// they're never spendable.
func selectChange(outputs cashu.BlindedMessages, signatures cashu.BlindedSignatures, overpaid uint64) cashu.BlindedSignatures {
	if overpaid == 0 || len(outputs) == 0 {
		return cashu.BlindedSignatures{}
	}

	type pair struct {
		output    cashu.BlindedMessage
		signature cashu.BlindedSignature
	}
	pairs := make([]pair, len(outputs))
	for i := range outputs {
		pairs[i] = pair{outputs[i], signatures[i]}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].output.Amount > pairs[j].output.Amount
	})

	change := cashu.BlindedSignatures{}
	var sum uint64
	for _, p := range pairs {
		if sum+p.output.Amount > overpaid {
			continue
		}
		sum += p.output.Amount
		change = append(change, p.signature)
	}

	return change
}
