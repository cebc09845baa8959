package auth

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"github.com/rickgao/sx-copybot/internal/model"
)

const (
	testKey      = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress  = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	testExecutor = "0x52adf738AAD93c31f798a30b2C74D658e1E9a562"
	testToken    = "0x6629Ce1Cf35Cc1329ebB4F63202F3f197b3F050B"
	testMarket   = "0x0d64c52e8781acdada86920a2d1e5acd6f29dcfe285cf9cae367b671dff05f7d"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(Config{PrivateKey: testKey, ChainID: 4162, Executor: testExecutor})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func testOrder() model.Order {
	return model.Order{
		MarketHash:               testMarket,
		Maker:                    testAddress,
		BaseToken:                testToken,
		Executor:                 testExecutor,
		TotalBetSize:             uint256.NewInt(10_000_000),
		PercentageOdds:           uint256.MustFromDecimal("51750000000000000000"),
		Expiry:                   2209006800,
		APIExpiry:                1700000000,
		Salt:                     uint256.MustFromDecimal("91358189826298376451098328489018519875098471569019823"),
		IsMakerBettingOutcomeOne: true,
	}
}

// recoverSigner returns the address that produced sig over td's digest.
func recoverSigner(t *testing.T, td apitypes.TypedData, sig string) common.Address {
	t.Helper()

	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		t.Fatalf("hash typed data: %v", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if len(raw) != 65 {
		t.Fatalf("signature length = %d, want 65", len(raw))
	}
	if raw[64] != 27 && raw[64] != 28 {
		t.Errorf("v = %d, want 27 or 28", raw[64])
	}
	raw[64] -= 27

	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	return crypto.PubkeyToAddress(*pub)
}

func TestNewSigner(t *testing.T) {
	s := newTestSigner(t)
	if s.Address() != testAddress {
		t.Errorf("Address() = %q, want %q", s.Address(), testAddress)
	}
	if !strings.EqualFold(s.Executor(), testExecutor) {
		t.Errorf("Executor() = %q, want %q", s.Executor(), testExecutor)
	}
	if s.domainVersion != defaultOrderDomainVersion {
		t.Errorf("domainVersion = %q, want %q", s.domainVersion, defaultOrderDomainVersion)
	}

	with0x, err := NewSigner(Config{PrivateKey: "0x" + testKey, ChainID: 4162, Executor: testExecutor})
	if err != nil {
		t.Fatalf("NewSigner with 0x prefix: %v", err)
	}
	if with0x.Address() != testAddress {
		t.Errorf("Address() = %q, want %q", with0x.Address(), testAddress)
	}
}

func TestNewSigner_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"bad key", Config{PrivateKey: "zz", Executor: testExecutor}, ErrInvalidKey},
		{"missing executor", Config{PrivateKey: testKey}, ErrNoExecutor},
		{"bad executor", Config{PrivateKey: testKey, Executor: "0x123"}, ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewSigner() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSignOrder_RecoversSigner(t *testing.T) {
	s := newTestSigner(t)
	order := testOrder()

	sig, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+130 {
		t.Fatalf("signature = %q, want 0x + 65 bytes hex", sig)
	}

	td, err := s.orderTypedData(order)
	if err != nil {
		t.Fatalf("orderTypedData: %v", err)
	}
	if got := recoverSigner(t, td, sig); got.Hex() != testAddress {
		t.Errorf("recovered %s, want %s", got.Hex(), testAddress)
	}
}

func TestSignOrder_Deterministic(t *testing.T) {
	s := newTestSigner(t)

	a, err := s.SignOrder(testOrder())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	b, err := s.SignOrder(testOrder())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if a != b {
		t.Error("signatures over identical orders differ")
	}

	changed := testOrder()
	changed.Salt = uint256.NewInt(1)
	c, err := s.SignOrder(changed)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if c == a {
		t.Error("changing the salt did not change the signature")
	}
}

func TestOrderHash(t *testing.T) {
	s := newTestSigner(t)

	h1, err := s.OrderHash(testOrder())
	if err != nil {
		t.Fatalf("OrderHash: %v", err)
	}
	if h1 == (common.Hash{}) {
		t.Error("OrderHash returned zero hash")
	}

	other := testOrder()
	other.IsMakerBettingOutcomeOne = false
	h2, err := s.OrderHash(other)
	if err != nil {
		t.Fatalf("OrderHash: %v", err)
	}
	if h1 == h2 {
		t.Error("outcome side is not part of the hash")
	}
}

func TestSignOrder_Invalid(t *testing.T) {
	s := newTestSigner(t)

	missing := testOrder()
	missing.Salt = nil
	if _, err := s.SignOrder(missing); !errors.Is(err, ErrMissingAmount) {
		t.Errorf("SignOrder(no salt) error = %v, want %v", err, ErrMissingAmount)
	}

	badMaker := testOrder()
	badMaker.Maker = "nope"
	if _, err := s.SignOrder(badMaker); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("SignOrder(bad maker) error = %v, want %v", err, ErrInvalidAddress)
	}
}

func TestSignCancel(t *testing.T) {
	s := newTestSigner(t)
	salt := uint256.NewInt(7)

	tests := []struct {
		name    string
		payload CancelPayload
	}{
		{"orders", CancelPayload{Kind: CancelOrders, OrderHashes: []string{"0xaa", "0xbb"}, Salt: salt, Timestamp: 1700000000}},
		{"event", CancelPayload{Kind: CancelEvent, EventID: "L7178536", Salt: salt, Timestamp: 1700000000}},
		{"all", CancelPayload{Kind: CancelAll, Salt: salt, Timestamp: 1700000000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := s.SignCancel(tt.payload)
			if err != nil {
				t.Fatalf("SignCancel: %v", err)
			}
			td, err := s.cancelTypedData(tt.payload)
			if err != nil {
				t.Fatalf("cancelTypedData: %v", err)
			}
			if got := recoverSigner(t, td, sig); got.Hex() != testAddress {
				t.Errorf("recovered %s, want %s", got.Hex(), testAddress)
			}
		})
	}
}

func TestSignCancel_Errors(t *testing.T) {
	s := newTestSigner(t)

	tests := []struct {
		name    string
		payload CancelPayload
		want    error
	}{
		{"no salt", CancelPayload{Kind: CancelAll}, ErrMissingAmount},
		{"no hashes", CancelPayload{Kind: CancelOrders, Salt: uint256.NewInt(1)}, ErrEmptyCancel},
		{"unknown kind", CancelPayload{Kind: CancelKind(99), Salt: uint256.NewInt(1)}, ErrUnknownCancel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.SignCancel(tt.payload); !errors.Is(err, tt.want) {
				t.Errorf("SignCancel() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCancelPayload_SaltHex(t *testing.T) {
	p := CancelPayload{Salt: uint256.NewInt(255)}
	want := "0x" + strings.Repeat("0", 62) + "ff"
	if got := p.SaltHex(); got != want {
		t.Errorf("SaltHex() = %q, want %q", got, want)
	}
	if got := (CancelPayload{}).SaltHex(); got != "" {
		t.Errorf("SaltHex() without salt = %q, want empty", got)
	}
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	b, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if a.Eq(b) {
		t.Error("two salts are equal")
	}
}
