// Package auth signs orders and cancellations for the exchange using EIP-712
// typed data and a secp256k1 wallet key.
package auth

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"github.com/rickgao/sx-copybot/internal/model"
)

const (
	orderDomainName           = "SX Bet"
	defaultOrderDomainVersion = "6.0"
	cancelDomainVersion       = "1.0"
)

// Errors
var (
	ErrNoExecutor     = errors.New("executor address is required")
	ErrInvalidKey     = errors.New("invalid private key")
	ErrInvalidAddress = errors.New("invalid address")
	ErrEmptyCancel    = errors.New("cancel has no order hashes")
	ErrUnknownCancel  = errors.New("unknown cancel kind")
	ErrMissingAmount  = errors.New("order amount is missing")
)

// Config configures a Signer.
type Config struct {
	PrivateKey    string // Hex, with or without 0x
	ChainID       int64
	Executor      string // Verifying contract for orders
	DomainVersion string // Order domain version; empty uses the default
}

// Signer produces EIP-712 signatures for a single wallet.
type Signer struct {
	key           *ecdsa.PrivateKey
	address       common.Address
	chainID       int64
	executor      common.Address
	domainVersion string
}

// NewSigner parses the key and validates the signing domain.
func NewSigner(cfg Config) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if cfg.Executor == "" {
		return nil, ErrNoExecutor
	}
	if !common.IsHexAddress(cfg.Executor) {
		return nil, fmt.Errorf("%w: executor %q", ErrInvalidAddress, cfg.Executor)
	}

	version := cfg.DomainVersion
	if version == "" {
		version = defaultOrderDomainVersion
	}

	return &Signer{
		key:           key,
		address:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:       cfg.ChainID,
		executor:      common.HexToAddress(cfg.Executor),
		domainVersion: version,
	}, nil
}

// Address returns the checksummed wallet address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Executor returns the checksummed executor address orders are signed for.
func (s *Signer) Executor() string {
	return s.executor.Hex()
}

// SignOrder signs the order's economic fields. Hash and Signature on the
// input are ignored.
func (s *Signer) SignOrder(order model.Order) (string, error) {
	td, err := s.orderTypedData(order)
	if err != nil {
		return "", err
	}
	return signTypedData(s.key, td)
}

// OrderHash returns the EIP-712 digest that SignOrder signs.
func (s *Signer) OrderHash(order model.Order) (common.Hash, error) {
	td, err := s.orderTypedData(order)
	if err != nil {
		return common.Hash{}, err
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash order: %w", err)
	}
	return common.BytesToHash(hash), nil
}

func (s *Signer) orderTypedData(order model.Order) (apitypes.TypedData, error) {
	if order.TotalBetSize == nil || order.PercentageOdds == nil || order.Salt == nil {
		return apitypes.TypedData{}, ErrMissingAmount
	}
	for _, addr := range []string{order.Maker, order.BaseToken, order.Executor} {
		if !common.IsHexAddress(addr) {
			return apitypes.TypedData{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Details": {
				{Name: "marketHash", Type: "bytes32"},
				{Name: "baseToken", Type: "address"},
				{Name: "totalBetSize", Type: "uint256"},
				{Name: "percentageOdds", Type: "uint256"},
				{Name: "expiry", Type: "uint256"},
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "executor", Type: "address"},
				{Name: "isMakerBettingOutcomeOne", Type: "bool"},
			},
		},
		PrimaryType: "Details",
		Domain: apitypes.TypedDataDomain{
			Name:              orderDomainName,
			Version:           s.domainVersion,
			ChainId:           ethmath.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.executor.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"marketHash":               common.HexToHash(order.MarketHash).Bytes(),
			"baseToken":                order.BaseToken,
			"totalBetSize":             order.TotalBetSize.ToBig(),
			"percentageOdds":           order.PercentageOdds.ToBig(),
			"expiry":                   big.NewInt(order.Expiry),
			"salt":                     order.Salt.ToBig(),
			"maker":                    order.Maker,
			"executor":                 order.Executor,
			"isMakerBettingOutcomeOne": order.IsMakerBettingOutcomeOne,
		},
	}, nil
}

// CancelKind selects which cancellation is being authorised.
type CancelKind int

const (
	CancelOrders CancelKind = iota
	CancelEvent
	CancelAll
)

// CancelPayload is the content of a signed cancellation.
type CancelPayload struct {
	Kind        CancelKind
	OrderHashes []string // CancelOrders
	EventID     string   // CancelEvent
	Salt        *uint256.Int
	Timestamp   int64 // Unix seconds
}

// SaltHex returns the salt as a 0x-prefixed 32-byte hex string, the form
// cancel requests carry it in.
func (p CancelPayload) SaltHex() string {
	if p.Salt == nil {
		return ""
	}
	b := p.Salt.Bytes32()
	return hexutil.Encode(b[:])
}

// NewSalt returns a uniformly random 256-bit nonce.
func NewSalt() (*uint256.Int, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return new(uint256.Int).SetBytes32(b[:]), nil
}

// SignCancel signs a cancellation request.
func (s *Signer) SignCancel(p CancelPayload) (string, error) {
	td, err := s.cancelTypedData(p)
	if err != nil {
		return "", err
	}
	return signTypedData(s.key, td)
}

func (s *Signer) cancelTypedData(p CancelPayload) (apitypes.TypedData, error) {
	if p.Salt == nil {
		return apitypes.TypedData{}, ErrMissingAmount
	}

	salt := p.Salt.Bytes32()
	message := apitypes.TypedDataMessage{
		"salt":      salt[:],
		"timestamp": big.NewInt(p.Timestamp),
	}
	fields := []apitypes.Type{}

	var primary string
	switch p.Kind {
	case CancelOrders:
		if len(p.OrderHashes) == 0 {
			return apitypes.TypedData{}, ErrEmptyCancel
		}
		primary = "CancelOrderSportX"
		hashes := make([]interface{}, len(p.OrderHashes))
		for i, h := range p.OrderHashes {
			hashes[i] = h
		}
		message["orderHashes"] = hashes
		fields = append(fields, apitypes.Type{Name: "orderHashes", Type: "string[]"})
	case CancelEvent:
		primary = "CancelSportXEventOrders"
		message["sportXeventId"] = p.EventID
		fields = append(fields, apitypes.Type{Name: "sportXeventId", Type: "string"})
	case CancelAll:
		primary = "CancelAllOrdersSportX"
	default:
		return apitypes.TypedData{}, fmt.Errorf("%w: %d", ErrUnknownCancel, p.Kind)
	}
	fields = append(fields,
		apitypes.Type{Name: "salt", Type: "bytes32"},
		apitypes.Type{Name: "timestamp", Type: "uint256"},
	)

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			primary: fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:    primary,
			Version: cancelDomainVersion,
			ChainId: ethmath.NewHexOrDecimal256(s.chainID),
		},
		Message: message,
	}, nil
}

// signTypedData hashes and signs typed data, returning a 0x-prefixed
// 65-byte signature with v in {27, 28}.
func signTypedData(key *ecdsa.PrivateKey, td apitypes.TypedData) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", fmt.Errorf("hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
