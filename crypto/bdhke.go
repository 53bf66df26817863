// Package crypto implements the blind Diffie-Hellman key exchange (BDHKE)
// scheme used by Cashu: hash-to-curve, blind/sign/unblind/verify, and the
// DLEQ proof that lets a wallet check a mint signed with the key it
// published for the requested amount.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// domainSeparator is SHA256("Secp256k1_HashToCurve_Cashu_"), mixed into
// every hash_to_curve attempt so the curve-point search can't collide with
// an unrelated use of secp256k1 point hashing.
var domainSeparator = sha256.Sum256([]byte("Secp256k1_HashToCurve_Cashu_"))

// ErrNoCurvePoint is returned if no valid curve point was found within
// maxCounter attempts. In practice this never happens.
var ErrNoCurvePoint = errors.New("crypto: could not find a valid curve point")

const maxCounter = 1 << 16

// HashToCurve maps an arbitrary message to a valid secp256k1 curve point
// following the NUT-00 domain-separated algorithm: try
// SHA256(domainSeparator || message || counter) as a compressed point,
// incrementing counter until one parses.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	prefix := append(append([]byte{}, domainSeparator[:]...), message...)

	var counter [4]byte
	for i := uint32(0); i < maxCounter; i++ {
		binary.LittleEndian.PutUint32(counter[:], i)

		hash := sha256.Sum256(append(prefix[:len(prefix):len(prefix)], counter[:]...))
		pkBytes := append([]byte{0x02}, hash[:]...)
		if point, err := secp256k1.ParsePubKey(pkBytes); err == nil {
			return point, nil
		}
	}
	return nil, ErrNoCurvePoint
}

// HashToCurveDeprecated is the pre-NUT-00-fix algorithm: it re-hashes the
// previous digest instead of mixing in a domain separator and counter.
// Kept only so proofs and secrets created before the fix can still be
// looked up by their original Y value.
func HashToCurveDeprecated(message []byte) *secp256k1.PublicKey {
	var point *secp256k1.PublicKey

	for point == nil || !point.IsOnCurve() {
		hash := sha256.Sum256(message)
		pkhash := append([]byte{0x02}, hash[:]...)
		point, _ = secp256k1.ParsePubKey(pkhash)
		message = hash[:]
	}
	return point
}

func blindMessage(Y *secp256k1.PublicKey, r *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	// blindedMessage = Y + rG
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	return secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)
}

// BlindMessage computes B_ = Y + rG where Y = hash_to_curve(secret). If r
// is nil a fresh blinding factor is generated. Returns B_ and the r used.
func BlindMessage(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}

	if r == nil {
		r, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
	}

	return blindMessage(Y, r), r, nil
}

// BlindMessageDomainSeparated is an explicit alias for BlindMessage, used by
// callers that need to name the domain-separated path against the deprecated
// one at the call site (e.g. a wallet migrating old secrets).
func BlindMessageDomainSeparated(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	return BlindMessage(secret, r)
}

// BlindMessageDeprecated blinds using HashToCurveDeprecated, for wallets
// created before the domain-separation fix.
func BlindMessageDeprecated(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	if r == nil {
		var err error
		r, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
	}
	Y := HashToCurveDeprecated([]byte(secret))
	return blindMessage(Y, r), r, nil
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	// result = k * B_
	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// k * HashToCurve(secret) == C
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y, err := HashToCurve(secret)
	if err != nil {
		return false
	}

	var Ypoint, result secp256k1.JacobianPoint
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// dleqChallenge computes e = H(R1 || R2 || K || C_), the Fiat-Shamir
// challenge binding the proof to the specific blinded message and signature.
// Each point enters the hash as the hex string of its uncompressed
// serialization.
func dleqChallenge(R1, R2, K, C_ *secp256k1.PublicKey) *secp256k1.PrivateKey {
	h := sha256.New()
	h.Write([]byte(hex.EncodeToString(R1.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(R2.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(K.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(C_.SerializeUncompressed())))
	digest := h.Sum(nil)

	e := secp256k1.PrivKeyFromBytes(digest)
	return e
}

// GenerateDLEQ produces a proof that C_ = k*B_ for the same k whose public
// key is K, without revealing k. The mint runs this once per blind
// signature it issues.
//
//	R1 = r*G, R2 = r*B_, e = H(R1||R2||K||C_), s = r + e*k
func GenerateDLEQ(k *secp256k1.PrivateKey, B_, C_ *secp256k1.PublicKey) (e, s *secp256k1.PrivateKey) {
	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil
	}

	R1 := r.PubKey()

	var bpoint, r2point secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	secp256k1.ScalarMultNonConst(&r.Key, &bpoint, &r2point)
	r2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2point.X, &r2point.Y)

	K := k.PubKey()
	e = dleqChallenge(R1, R2, K, C_)

	var sScalar secp256k1.ModNScalar
	sScalar.Mul2(&e.Key, &k.Key).Add(&r.Key)
	sBytes := sScalar.Bytes()
	s = secp256k1.PrivKeyFromBytes(sBytes[:])

	return e, s
}

// VerifyDLEQ checks a mint-issued DLEQ proof against the mint's public key
// K for the amount, the blinded message B_, and the blinded signature C_:
//
//	R1 = s*G - e*K, R2 = s*B_ - e*C_, e == H(R1||R2||K||C_)
func VerifyDLEQ(e, s *secp256k1.PrivateKey, K, B_, C_ *secp256k1.PublicKey) bool {
	var sG, eK, R1Point secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s.Key, &sG)

	var kpoint secp256k1.JacobianPoint
	K.AsJacobian(&kpoint)
	secp256k1.ScalarMultNonConst(&e.Key, &kpoint, &eK)
	eK.Y.Negate(1)
	eK.Y.Normalize()

	secp256k1.AddNonConst(&sG, &eK, &R1Point)
	R1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1Point.X, &R1Point.Y)

	var sB, eC, R2Point secp256k1.JacobianPoint
	var bpoint secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	secp256k1.ScalarMultNonConst(&s.Key, &bpoint, &sB)

	var cpoint secp256k1.JacobianPoint
	C_.AsJacobian(&cpoint)
	secp256k1.ScalarMultNonConst(&e.Key, &cpoint, &eC)
	eC.Y.Negate(1)
	eC.Y.Normalize()

	secp256k1.AddNonConst(&sB, &eC, &R2Point)
	R2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2Point.X, &R2Point.Y)

	expected := dleqChallenge(R1, R2, K, C_)
	return expected.Key.Equals(&e.Key)
}
