package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/cashumint/core/cashu"
	"github.com/cashumint/core/cashu/nuts/nut03"
	"github.com/cashumint/core/cashu/nuts/nut04"
	"github.com/cashumint/core/cashu/nuts/nut05"
	"github.com/cashumint/core/cashu/nuts/nut11"
	"github.com/cashumint/core/cashu/nuts/nut12"
	"github.com/cashumint/core/cashu/nuts/nut13"
	"github.com/cashumint/core/crypto"
	"github.com/cashumint/core/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrMintNotExist            = errors.New("mint does not exist")
	ErrInsufficientMintBalance = errors.New("not enough funds in selected mint")
	ErrQuoteNotFound           = errors.New("quote not found")
)

// Config holds the parameters needed to open or create a wallet.
type Config struct {
	WalletPath       string
	CurrentMintURL   string
	DomainSeparation bool
}

// walletMint tracks the keysets the wallet knows about for a single mint.
type walletMint struct {
	mintURL         string
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
}

// Wallet is a non-custodial Cashu wallet backed by a BIP-32 seed. Secrets
// and blinding factors for normal (unlocked) proofs are derived
// deterministically per NUT-13, which is what makes Restore possible.
type Wallet struct {
	db        storage.WalletDB
	masterKey *hdkeychain.ExtendedKey

	mints       map[string]walletMint
	defaultMint string
	unit        cashu.Unit

	// domainSeparation selects BlindMessage over the deprecated,
	// non domain-separated hash_to_curve used by older wallets.
	domainSeparation bool
}

// InitStorage opens (or creates) the wallet's local database.
func InitStorage(path string) (storage.WalletDB, error) {
	return storage.InitBolt(path)
}

// LoadWallet opens the wallet database at config.WalletPath, generating a
// fresh mnemonic if none is stored yet, and makes sure config.CurrentMintURL
// is a known, trusted mint.
func LoadWallet(config Config) (*Wallet, error) {
	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("error starting wallet db: %v", err)
	}

	seed := db.GetSeed()
	if len(seed) == 0 {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, fmt.Errorf("error generating entropy for mnemonic: %v", err)
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, fmt.Errorf("error generating mnemonic: %v", err)
		}
		seed = bip39.NewSeed(mnemonic, "")
		db.SaveMnemonicSeed(mnemonic, seed)
	}

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("error deriving master key: %v", err)
	}

	mintURL, err := url.Parse(config.CurrentMintURL)
	if err != nil || mintURL.Scheme == "" || mintURL.Host == "" {
		return nil, fmt.Errorf("invalid mint url '%v'", config.CurrentMintURL)
	}

	wallet := &Wallet{
		db:               db,
		masterKey:        masterKey,
		unit:             cashu.Sat,
		domainSeparation: config.DomainSeparation,
		mints:            make(map[string]walletMint),
		defaultMint:      mintURL.String(),
	}

	for mint, keysets := range db.GetKeysets() {
		wm := walletMint{mintURL: mint, inactiveKeysets: make(map[string]crypto.WalletKeyset)}
		for _, keyset := range keysets {
			if keyset.Active {
				wm.activeKeyset = keyset
			} else {
				wm.inactiveKeysets[keyset.Id] = keyset
			}
		}
		wallet.mints[mint] = wm
	}

	if _, ok := wallet.mints[wallet.defaultMint]; !ok {
		if err := wallet.addMint(wallet.defaultMint); err != nil {
			return nil, fmt.Errorf("error setting up wallet for mint '%v': %v", wallet.defaultMint, err)
		}
	}

	return wallet, nil
}

// addMint fetches and persists the active and inactive keysets for a mint
// the wallet has not dealt with before.
func (w *Wallet) addMint(mintURL string) error {
	activeKeyset, err := GetMintActiveKeyset(mintURL, w.unit)
	if err != nil {
		return fmt.Errorf("error getting active keyset from mint: %v", err)
	}
	if err := w.db.SaveKeyset(activeKeyset); err != nil {
		return err
	}

	inactiveKeysets, err := GetMintInactiveKeysets(mintURL, w.unit)
	if err != nil {
		return fmt.Errorf("error getting inactive keysets from mint: %v", err)
	}
	for id, keyset := range inactiveKeysets {
		k := keyset
		if err := w.db.SaveKeyset(&k); err != nil {
			return err
		}
		inactiveKeysets[id] = k
	}

	w.mints[mintURL] = walletMint{
		mintURL:         mintURL,
		activeKeyset:    *activeKeyset,
		inactiveKeysets: inactiveKeysets,
	}
	return nil
}

// UpdateMintURL renames a mint the wallet already trusts, e.g. after the
// mint's domain changes. Every keyset known under oldURL is re-pointed at
// newURL, both in memory and in the db.
func (w *Wallet) UpdateMintURL(oldURL, newURL string) error {
	mint, ok := w.mints[oldURL]
	if !ok {
		return ErrMintNotExist
	}

	mint.mintURL = newURL
	mint.activeKeyset.MintURL = newURL
	for id, keyset := range mint.inactiveKeysets {
		keyset.MintURL = newURL
		mint.inactiveKeysets[id] = keyset
	}

	delete(w.mints, oldURL)
	w.mints[newURL] = mint

	if w.defaultMint == oldURL {
		w.defaultMint = newURL
	}

	return w.db.UpdateKeysetMintURL(oldURL, newURL)
}

// createBlindedMessages derives, for each amount in split, the next
// deterministic secret and blinding factor for keysetId starting at
// *counter, blinds them, and advances *counter as it goes.
func (w *Wallet) createBlindedMessages(
	split []uint64,
	keysetId string,
	counter *uint32,
) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	blindedMessages := make(cashu.BlindedMessages, len(split))
	secrets := make([]string, len(split))
	rs := make([]*secp256k1.PrivateKey, len(split))

	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, keysetId)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error deriving keyset path: %v", err)
	}

	for i, amount := range split {
		secret, err := nut13.DeriveSecret(keysetPath, *counter)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error deriving secret: %v", err)
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, *counter)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error deriving blinding factor: %v", err)
		}

		var B_ *secp256k1.PublicKey
		if w.domainSeparation {
			B_, r, err = crypto.BlindMessageDomainSeparated(secret, r)
		} else {
			B_, r, err = crypto.BlindMessageDeprecated(secret, r)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error blinding message: %v", err)
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amount, B_)
		secrets[i] = secret
		rs[i] = r
		(*counter)++
	}

	return blindedMessages, secrets, rs, nil
}

// createLockedBlindedMessages is like createBlindedMessages but for
// ecash being sent locked to pubkeyHex. Locked secrets carry their own
// random nonce (NUT-10/11), so there is nothing to derive deterministically
// and nothing for Restore to recompute for them.
func (w *Wallet) createLockedBlindedMessages(
	split []uint64,
	keysetId, pubkeyHex string,
) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	blindedMessages := make(cashu.BlindedMessages, len(split))
	secrets := make([]string, len(split))
	rs := make([]*secp256k1.PrivateKey, len(split))

	for i, amount := range split {
		secret, err := nut11.P2PKSecret(pubkeyHex)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error creating locked secret: %v", err)
		}

		var B_ *secp256k1.PublicKey
		var r *secp256k1.PrivateKey
		if w.domainSeparation {
			B_, r, err = crypto.BlindMessageDomainSeparated(secret, nil)
		} else {
			B_, r, err = crypto.BlindMessageDeprecated(secret, nil)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error blinding message: %v", err)
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amount, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

// constructProofs unblinds a batch of mint signatures into spendable
// proofs. When blindedMessages is supplied (aligned by index with
// signatures), a mint-attached DLEQ proof is verified and, on success,
// re-attached to the resulting proof so it can be checked again later
// without trusting the mint a second time.
func constructProofs(
	signatures cashu.BlindedSignatures,
	blindedMessages cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, error) {
	if len(signatures) != len(secrets) || len(signatures) != len(rs) {
		return nil, errors.New("number of signatures does not match number of secrets and blinding factors")
	}

	proofs := make(cashu.Proofs, len(signatures))
	for i, signature := range signatures {
		K, ok := keyset.PublicKeys[signature.Amount]
		if !ok {
			return nil, fmt.Errorf("keyset '%v' does not have key for amount '%v'", keyset.Id, signature.Amount)
		}

		C, err := unblindSignature(signature.C_, rs[i], K)
		if err != nil {
			return nil, fmt.Errorf("error unblinding signature: %v", err)
		}

		proof := cashu.Proof{
			Amount: signature.Amount,
			Id:     signature.Id,
			Secret: secrets[i],
			C:      C,
		}

		if i < len(blindedMessages) && signature.DLEQ != nil {
			if nut12.VerifyBlindSignatureDLEQ(*signature.DLEQ, K, blindedMessages[i].B_, signature.C_) {
				proof.DLEQ = &cashu.DLEQProof{
					E: signature.DLEQ.E,
					S: signature.DLEQ.S,
					R: hex.EncodeToString(rs[i].Serialize()),
				}
			}
		}

		proofs[i] = proof
	}

	return proofs, nil
}

// unblindSignature unblinds C_ (hex-encoded) with r under mint key K and
// returns the resulting C, hex-encoded.
func unblindSignature(C_hex string, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) (string, error) {
	C_bytes, err := hex.DecodeString(C_hex)
	if err != nil {
		return "", fmt.Errorf("invalid C_: %v", err)
	}
	C_, err := secp256k1.ParsePubKey(C_bytes)
	if err != nil {
		return "", fmt.Errorf("invalid C_: %v", err)
	}

	C := crypto.UnblindSignature(C_, r, K)
	return hex.EncodeToString(C.SerializeCompressed()), nil
}

// GetBalance returns the total amount of unspent proofs across all mints.
func (w *Wallet) GetBalance() uint64 {
	return w.db.GetProofs().Amount()
}

// GetBalanceByMints returns the unspent balance held at each trusted mint.
func (w *Wallet) GetBalanceByMints() map[string]uint64 {
	balances := make(map[string]uint64, len(w.mints))
	for mintURL := range w.mints {
		balances[mintURL] = 0
	}

	for _, proof := range w.db.GetProofs() {
		if mintURL := w.mintURLForKeysetId(proof.Id); mintURL != "" {
			balances[mintURL] += proof.Amount
		}
	}
	return balances
}

func (w *Wallet) mintURLForKeysetId(keysetId string) string {
	for mintURL, mint := range w.mints {
		if mint.activeKeyset.Id == keysetId {
			return mintURL
		}
		if _, ok := mint.inactiveKeysets[keysetId]; ok {
			return mintURL
		}
	}
	return ""
}

func (w *Wallet) proofsForMint(mintURL string) cashu.Proofs {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil
	}

	keysetIds := map[string]bool{mint.activeKeyset.Id: true}
	for id := range mint.inactiveKeysets {
		keysetIds[id] = true
	}

	proofs := cashu.Proofs{}
	for _, proof := range w.db.GetProofs() {
		if keysetIds[proof.Id] {
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

// TrustedMints lists the mints this wallet has keysets for.
func (w *Wallet) TrustedMints() []string {
	mints := make([]string, 0, len(w.mints))
	for mintURL := range w.mints {
		mints = append(mints, mintURL)
	}
	return mints
}

// CurrentMint returns the wallet's default mint.
func (w *Wallet) CurrentMint() string {
	return w.defaultMint
}

// Mnemonic returns the seed phrase this wallet was created or restored from.
func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

// GetReceivePubkey returns the public key ecash can be locked to for this
// wallet to later unlock.
func (w *Wallet) GetReceivePubkey() *secp256k1.PublicKey {
	key, err := DeriveP2PK(w.masterKey)
	if err != nil {
		return nil
	}
	return key.PubKey()
}

// RequestMint asks the wallet's default mint for a bolt11 mint quote for
// amount and persists it so MintTokens can later redeem it once paid.
func (w *Wallet) RequestMint(amount uint64) (*nut04.PostMintQuoteBolt11Response, error) {
	mintURL := w.defaultMint
	mintQuoteRequest := nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: w.unit.String()}
	mintResponse, err := PostMintQuoteBolt11(mintURL, mintQuoteRequest)
	if err != nil {
		return nil, err
	}

	quote := storage.MintQuote{
		QuoteId:        mintResponse.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          mintResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: mintResponse.Request,
		Amount:         amount,
		CreatedAt:      time.Now().Unix(),
		QuoteExpiry:    uint64(mintResponse.Expiry),
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving mint quote: %v", err)
	}

	return mintResponse, nil
}

// GetInvoiceByPaymentRequest looks up a previously requested mint quote by
// its bolt11 payment request. Returns nil, nil if none is found.
func (w *Wallet) GetInvoiceByPaymentRequest(paymentRequest string) (*storage.MintQuote, error) {
	for _, quote := range w.db.GetMintQuotes() {
		if quote.PaymentRequest == paymentRequest {
			q := quote
			return &q, nil
		}
	}
	return nil, nil
}

// MintTokens redeems a paid mint quote for new proofs.
func (w *Wallet) MintTokens(quoteId string) (cashu.Proofs, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	stateResponse, err := GetMintQuoteState(quote.Mint, quoteId)
	if err != nil {
		return nil, err
	}
	if stateResponse.State == nut04.Unpaid {
		return nil, cashu.MintQuoteRequestNotPaid
	}

	activeKeyset, err := w.getActiveKeyset(quote.Mint)
	if err != nil {
		return nil, err
	}

	counter := w.db.GetKeysetCounter(activeKeyset.Id)
	split := cashu.AmountSplit(quote.Amount)
	blindedMessages, secrets, rs, err := w.createBlindedMessages(split, activeKeyset.Id, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	mintRequest := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: blindedMessages}
	mintResponse, err := PostMintBolt11(quote.Mint, mintRequest)
	if err != nil {
		return nil, err
	}

	proofs, err := constructProofs(mintResponse.Signatures, blindedMessages, secrets, rs, activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}

	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, fmt.Errorf("error storing proofs: %v", err)
	}
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(blindedMessages))); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	quote.State = nut04.Issued
	quote.SettledAt = time.Now().Unix()
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return nil, fmt.Errorf("error updating mint quote: %v", err)
	}

	return proofs, nil
}

// unlockOwnedProofs attaches a P2PK witness, signed with this wallet's
// receiving key, to every proof in proofs that is locked to it. Proofs
// that aren't P2PK-locked are returned unchanged.
func (w *Wallet) unlockOwnedProofs(proofs cashu.Proofs) (cashu.Proofs, error) {
	locked := make([]int, 0)
	for i, proof := range proofs {
		if nut11.IsSecretP2PK(proof) {
			locked = append(locked, i)
		}
	}
	if len(locked) == 0 {
		return proofs, nil
	}

	signingKey, err := DeriveP2PK(w.masterKey)
	if err != nil {
		return nil, fmt.Errorf("error deriving signing key: %v", err)
	}

	toSign := make(cashu.Proofs, len(locked))
	for i, idx := range locked {
		toSign[i] = proofs[idx]
	}

	signed, err := nut11.AddSignatureToInputs(toSign, signingKey)
	if err != nil {
		return nil, err
	}
	for i, idx := range locked {
		proofs[idx] = signed[i]
	}

	return proofs, nil
}

// getProofsForAmount selects unspent proofs from mintURL covering amount,
// preferring proofs on inactive keysets first so they get retired from
// circulation. When the selection doesn't add up exactly, it swaps the
// surplus into exact "to send" and "to keep" (change) proofs.
func (w *Wallet) getProofsForAmount(mintURL string, amount uint64) (cashu.Proofs, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil, ErrMintNotExist
	}

	mintProofs := w.proofsForMint(mintURL)
	if mintProofs.Amount() < amount {
		return nil, ErrInsufficientMintBalance
	}

	var inactive, active cashu.Proofs
	for _, proof := range mintProofs {
		if _, ok := mint.inactiveKeysets[proof.Id]; ok {
			inactive = append(inactive, proof)
		} else {
			active = append(active, proof)
		}
	}

	selected := cashu.Proofs{}
	var selectedAmount uint64
	for _, proofs := range []cashu.Proofs{inactive, active} {
		for _, proof := range proofs {
			if selectedAmount >= amount {
				break
			}
			selected = append(selected, proof)
			selectedAmount += proof.Amount
		}
	}

	if selectedAmount == amount {
		for _, proof := range selected {
			if err := w.db.DeleteProof(proof.Secret); err != nil {
				return nil, fmt.Errorf("error removing spent proof: %v", err)
			}
		}
		return selected, nil
	}

	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return nil, err
	}
	counter := w.db.GetKeysetCounter(activeKeyset.Id)

	sendSplit := cashu.AmountSplit(amount)
	sendMessages, sendSecrets, sendRs, err := w.createBlindedMessages(sendSplit, activeKeyset.Id, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	changeSplit := cashu.AmountSplit(selectedAmount - amount)
	changeMessages, changeSecrets, changeRs, err := w.createBlindedMessages(changeSplit, activeKeyset.Id, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating change blinded messages: %v", err)
	}

	blindedMessages := make(cashu.BlindedMessages, 0, len(sendMessages)+len(changeMessages))
	blindedMessages = append(blindedMessages, sendMessages...)
	blindedMessages = append(blindedMessages, changeMessages...)
	secrets := append(sendSecrets, changeSecrets...)
	rs := append(sendRs, changeRs...)
	cashu.SortBlindedMessages(blindedMessages, secrets, rs)

	selected, err = w.unlockOwnedProofs(selected)
	if err != nil {
		return nil, err
	}

	swapRequest := nut03.PostSwapRequest{Inputs: selected, Outputs: blindedMessages}
	swapResponse, err := PostSwap(mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	for _, proof := range selected {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, fmt.Errorf("error removing spent proof: %v", err)
		}
	}

	newProofs, err := constructProofs(swapResponse.Signatures, blindedMessages, secrets, rs, activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(blindedMessages))); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	// blindedMessages was sorted above, so re-match proofs to the send
	// messages by amount rather than assuming positional alignment.
	proofsToSend := make(cashu.Proofs, 0, len(sendMessages))
	remaining := make(cashu.Proofs, len(newProofs))
	copy(remaining, newProofs)
	for _, msg := range sendMessages {
		for i, proof := range remaining {
			if proof.Amount == msg.Amount {
				proofsToSend = append(proofsToSend, proof)
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}

	if err := w.db.SaveProofs(remaining); err != nil {
		return nil, fmt.Errorf("error storing change proofs: %v", err)
	}

	return proofsToSend, nil
}

// Send builds a token for amount from mintURL's proofs. includeDLEQ
// controls whether the recipient also gets the DLEQ proofs to verify the
// mint's signatures without trusting this wallet.
func (w *Wallet) Send(amount uint64, mintURL string, includeDLEQ bool) (cashu.Token, error) {
	proofsToSend, err := w.getProofsForAmount(mintURL, amount)
	if err != nil {
		return nil, err
	}

	token, err := cashu.NewTokenV4(proofsToSend, mintURL, w.unit, includeDLEQ)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// SendToPubkey is like Send but locks the outgoing proofs to pubkey (NUT-11
// P2PK) so only its holder can later spend them.
func (w *Wallet) SendToPubkey(
	amount uint64,
	mintURL string,
	pubkey *btcec.PublicKey,
	includeDLEQ bool,
) (cashu.Token, error) {
	proofsToSend, err := w.getProofsForAmount(mintURL, amount)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return nil, err
	}

	pubkeyHex := hex.EncodeToString(pubkey.SerializeCompressed())
	split := cashu.AmountSplit(amount)
	blindedMessages, secrets, rs, err := w.createLockedBlindedMessages(split, activeKeyset.Id, pubkeyHex)
	if err != nil {
		return nil, err
	}

	proofsToSend, err = w.unlockOwnedProofs(proofsToSend)
	if err != nil {
		return nil, err
	}

	swapRequest := nut03.PostSwapRequest{Inputs: proofsToSend, Outputs: blindedMessages}
	swapResponse, err := PostSwap(mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	for _, proof := range proofsToSend {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, fmt.Errorf("error removing spent proof: %v", err)
		}
	}

	lockedProofs, err := constructProofs(swapResponse.Signatures, blindedMessages, secrets, rs, activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing locked proofs: %v", err)
	}

	token, err := cashu.NewTokenV4(lockedProofs, mintURL, w.unit, includeDLEQ)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Receive claims the proofs in token. If swap is true, the proofs are first
// exchanged at the token's own mint for fresh ones under this wallet's
// control, which strips their spending history; otherwise they are kept as
// received and the mint is added to the wallet's trusted set if new.
func (w *Wallet) Receive(token cashu.Token, swap bool) (uint64, error) {
	proofs := token.Proofs()
	mintURL := token.Mint()

	if _, ok := w.mints[mintURL]; !ok {
		if err := w.addMint(mintURL); err != nil {
			return 0, fmt.Errorf("error adding mint '%v': %v", mintURL, err)
		}
	}

	if !swap {
		if err := w.db.SaveProofs(proofs); err != nil {
			return 0, fmt.Errorf("error storing proofs: %v", err)
		}
		return proofs.Amount(), nil
	}

	proofs, err := w.unlockOwnedProofs(proofs)
	if err != nil {
		return 0, err
	}

	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return 0, err
	}
	counter := w.db.GetKeysetCounter(activeKeyset.Id)

	split := cashu.AmountSplit(proofs.Amount())
	blindedMessages, secrets, rs, err := w.createBlindedMessages(split, activeKeyset.Id, &counter)
	if err != nil {
		return 0, fmt.Errorf("error creating blinded messages: %v", err)
	}

	swapRequest := nut03.PostSwapRequest{Inputs: proofs, Outputs: blindedMessages}
	swapResponse, err := PostSwap(mintURL, swapRequest)
	if err != nil {
		return 0, err
	}

	newProofs, err := constructProofs(swapResponse.Signatures, blindedMessages, secrets, rs, activeKeyset)
	if err != nil {
		return 0, fmt.Errorf("error constructing proofs: %v", err)
	}

	if err := w.db.SaveProofs(newProofs); err != nil {
		return 0, fmt.Errorf("error storing proofs: %v", err)
	}
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(blindedMessages))); err != nil {
		return 0, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	return newProofs.Amount(), nil
}

// Melt pays invoice out of mintURL's balance, returning any change the mint
// issued back to the wallet as new proofs.
func (w *Wallet) Melt(invoice string, mintURL string) (*nut05.PostMeltBolt11Response, error) {
	if _, ok := w.mints[mintURL]; !ok {
		return nil, ErrMintNotExist
	}

	meltQuoteRequest := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: w.unit.String()}
	meltQuoteResponse, err := PostMeltQuoteBolt11(mintURL, meltQuoteRequest)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return nil, err
	}

	amountNeeded := meltQuoteResponse.Amount + meltQuoteResponse.FeeReserve
	proofsToSend, err := w.getProofsForAmount(mintURL, amountNeeded)
	if err != nil {
		return nil, err
	}

	proofsToSend, err = w.unlockOwnedProofs(proofsToSend)
	if err != nil {
		return nil, err
	}

	counter := w.db.GetKeysetCounter(activeKeyset.Id)
	changeSplit := cashu.AmountSplit(meltQuoteResponse.FeeReserve)
	changeMessages, changeSecrets, changeRs, err := w.createBlindedMessages(changeSplit, activeKeyset.Id, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating change blinded messages: %v", err)
	}

	meltQuote := storage.MeltQuote{
		QuoteId:        meltQuoteResponse.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          meltQuoteResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: invoice,
		Amount:         meltQuoteResponse.Amount,
		FeeReserve:     meltQuoteResponse.FeeReserve,
		CreatedAt:      time.Now().Unix(),
		QuoteExpiry:    uint64(meltQuoteResponse.Expiry),
	}
	if err := w.db.SaveMeltQuote(meltQuote); err != nil {
		return nil, fmt.Errorf("error saving melt quote: %v", err)
	}

	if err := w.db.AddPendingProofsByQuoteId(proofsToSend, meltQuote.QuoteId); err != nil {
		return nil, fmt.Errorf("error marking proofs pending: %v", err)
	}
	for _, proof := range proofsToSend {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, fmt.Errorf("error removing spent proof: %v", err)
		}
	}

	meltRequest := nut05.PostMeltBolt11Request{
		Quote:   meltQuoteResponse.Quote,
		Inputs:  proofsToSend,
		Outputs: changeMessages,
	}
	meltResponse, err := PostMeltBolt11(mintURL, meltRequest)
	if err != nil {
		return nil, err
	}

	if err := w.db.DeletePendingProofsByQuoteId(meltQuote.QuoteId); err != nil {
		return nil, fmt.Errorf("error clearing pending proofs: %v", err)
	}

	meltQuote.State = meltResponse.State
	meltQuote.Preimage = meltResponse.Preimage
	meltQuote.SettledAt = time.Now().Unix()
	if err := w.db.SaveMeltQuote(meltQuote); err != nil {
		return nil, fmt.Errorf("error updating melt quote: %v", err)
	}

	if len(meltResponse.Change) > 0 {
		n := len(meltResponse.Change)
		changeProofs, err := constructProofs(
			meltResponse.Change,
			changeMessages[:n],
			changeSecrets[:n],
			changeRs[:n],
			activeKeyset,
		)
		if err != nil {
			return nil, fmt.Errorf("error constructing change proofs: %v", err)
		}
		if err := w.db.SaveProofs(changeProofs); err != nil {
			return nil, fmt.Errorf("error storing change proofs: %v", err)
		}
	}
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(changeMessages))); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	return meltResponse, nil
}
