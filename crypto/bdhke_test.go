package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurve(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{message: "0000000000000000000000000000000000000000000000000000000000000000",
			expected: "027b67e8dbbd384109637c7c10e7c83a049078ad244d13a8bc75aae9d6d9e549e1"},
		{message: "0000000000000000000000000000000000000000000000000000000000000001",
			expected: "02208b694d8b72020a4345785c554933fbe699b988e1e28713b262fa46ec861e9c"},
		{message: "0000000000000000000000000000000000000000000000000000000000000002",
			expected: "02a394ba56a7c73eee61a76b1deb63a18f98ee10d62b3bde91f38e65ffde2a7a08"},
	}

	for _, test := range tests {
		msgBytes, err := hex.DecodeString(test.message)
		if err != nil {
			t.Errorf("error decoding msg: %v", err)
		}

		pk, err := HashToCurve(msgBytes)
		if err != nil {
			t.Errorf("error hashing to curve: %v", err)
		}
		hexStr := hex.EncodeToString(pk.SerializeCompressed())
		if hexStr != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, hexStr)
		}
	}
}

func TestBlindMessage(t *testing.T) {
	tests := []struct {
		secret         []byte
		blindingFactor string
		expected       string
	}{
		{secret: []byte("test_message"),
			blindingFactor: "0000000000000000000000000000000000000000000000000000000000000001",
			expected:       "038d1a89e30d90ae6ed27ccda873f9270294ac08f2eb9a2edf66771d5b12de18da",
		},
		{secret: []byte("hello"),
			blindingFactor: "6d7e0abffc83267de28ed8ecc8760f17697e51252e13333ba69b4ddad1f95d05",
			expected:       "03aca19a38c6e1fc06eef327d291bee8d33f9cf901142efedbb98e6254690aba3a",
		},
	}

	for _, test := range tests {
		rbytes, err := hex.DecodeString(test.blindingFactor)
		if err != nil {
			t.Errorf("error decoding blinding factor: %v", err)
		}
		r := secp256k1.PrivKeyFromBytes(rbytes)

		B_, _, err := BlindMessage(string(test.secret), r)
		if err != nil {
			t.Errorf("error blinding message: %v", err)
		}
		B_Hex := hex.EncodeToString(B_.SerializeCompressed())
		if B_Hex != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, B_Hex)
		}
	}
}

func TestSignBlindedMessage(t *testing.T) {
	tests := []struct {
		secret         []byte
		blindingFactor string
		mintPrivKey    string
		expected       string
	}{
		{secret: []byte("test_message"),
			blindingFactor: "0000000000000000000000000000000000000000000000000000000000000001",
			mintPrivKey:    "0000000000000000000000000000000000000000000000000000000000000001",
			expected:       "038d1a89e30d90ae6ed27ccda873f9270294ac08f2eb9a2edf66771d5b12de18da",
		},
		{secret: []byte("test_message"),
			blindingFactor: "0000000000000000000000000000000000000000000000000000000000000001",
			mintPrivKey:    "7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f",
			expected:       "0234cd4cc6ccb310c8707e624e49acb7239145d720c3877f620fb9235386211dc5",
		},
	}

	for _, test := range tests {
		rbytes, err := hex.DecodeString(test.blindingFactor)
		if err != nil {
			t.Errorf("error decoding blinding factor: %v", err)
		}
		r := secp256k1.PrivKeyFromBytes(rbytes)

		B_, _, err := BlindMessage(string(test.secret), r)
		if err != nil {
			t.Errorf("error blinding message: %v", err)
		}

		mintKeyBytes, err := hex.DecodeString(test.mintPrivKey)
		if err != nil {
			t.Errorf("error decoding mint private key: %v", err)
		}

		k, _ := btcec.PrivKeyFromBytes(mintKeyBytes)

		blindedSignature := SignBlindedMessage(B_, k)
		blindedHex := hex.EncodeToString(blindedSignature.SerializeCompressed())
		if blindedHex != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, blindedHex)
		}
	}
}

func TestUnblindSignature(t *testing.T) {
	dst, _ := hex.DecodeString("02a9acc1e48c25eeeb9289b5031cc57da9fe72f3fe2861d264bdc074209b107ba2")
	C_, err := secp256k1.ParsePubKey(dst)
	if err != nil {
		t.Error(err)
	}

	kdst, _ := hex.DecodeString("020000000000000000000000000000000000000000000000000000000000000001")
	K, err := secp256k1.ParsePubKey(kdst)
	if err != nil {
		t.Error(err)
	}

	rhex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	r, _ := btcec.PrivKeyFromBytes(rhex)

	C := UnblindSignature(C_, r, K)
	CHex := hex.EncodeToString(C.SerializeCompressed())
	expected := "03c724d7e6a5443b39ac8acf11f40420adc4f99a02e7cc1b57703d9391f6d129cd"
	if CHex != expected {
		t.Errorf("expected '%v' but got '%v' instead\n", expected, CHex)
	}
}

func TestVerify(t *testing.T) {
	secret := []byte("test_message")
	rhex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000002")
	r := secp256k1.PrivKeyFromBytes(rhex)

	B_, r, err := BlindMessage(string(secret), r)
	if err != nil {
		t.Fatalf("error blinding message: %v", err)
	}

	khex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	k, _ := btcec.PrivKeyFromBytes(khex)
	K := k.PubKey()

	C_ := SignBlindedMessage(B_, k)
	C := UnblindSignature(C_, r, K)

	if !Verify(secret, k, C) {
		t.Error("failed verification")
	}
}

func TestDLEQRoundTrip(t *testing.T) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	B_, _, err := BlindMessage("dleq_test_secret", nil)
	if err != nil {
		t.Fatal(err)
	}

	C_ := SignBlindedMessage(B_, k)

	e, s := GenerateDLEQ(k, B_, C_)
	if e == nil || s == nil {
		t.Fatal("GenerateDLEQ returned nil proof")
	}

	if !VerifyDLEQ(e, s, k.PubKey(), B_, C_) {
		t.Error("valid DLEQ proof failed verification")
	}

	otherK, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	if VerifyDLEQ(e, s, otherK.PubKey(), B_, C_) {
		t.Error("DLEQ proof verified against the wrong public key")
	}
}

func TestHashToCurveDeprecatedDiffersFromFixed(t *testing.T) {
	msg := []byte("some seed that needs to be hashed")

	fixed, err := HashToCurve(msg)
	if err != nil {
		t.Fatal(err)
	}
	legacy := HashToCurveDeprecated(msg)

	if fixed.IsEqual(legacy) {
		t.Error("expected the domain-separated and legacy hash_to_curve to diverge")
	}
}
