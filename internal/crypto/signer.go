// Package crypto provides the wallet key handling, EIP-712 order signing and
// HMAC request authentication the exchange client needs.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"polycopy/internal/domain"
)

// Pre-computed keccak256 hashes of the canonical EIP-712 type strings.
var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	authTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// SignedOrder carries the EIP-712 order fields the CLOB expects, as decimal
// strings to survive JSON round-trips, plus the 65-byte signature.
type SignedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 buy, 1 sell
	SignatureType int    `json:"signatureType"` // 0 EOA
	Signature     string `json:"signature"`
}

// WalletSigner signs CLOB auth messages and orders with the follower wallet
// key.
type WalletSigner struct {
	key           *ecdsa.PrivateKey
	address       common.Address
	chainID       int64
	authDomainSep []byte
	orderDomain   []byte
}

// NewWalletSigner builds a signer from a hex private key. chainID is 137 for
// Polygon mainnet; exchangeAddr is the CTF Exchange verifying contract.
func NewWalletSigner(privateKeyHex string, chainID int64, exchangeAddr string) (*WalletSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: %w: parse private key: %v", domain.ErrSigningFailed, err)
	}

	s := &WalletSigner{
		key:     pk,
		address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID: chainID,
	}
	s.authDomainSep = ethcrypto.Keccak256(concat(
		authDomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		uint256Bytes(big.NewInt(chainID)),
	))
	s.orderDomain = ethcrypto.Keccak256(concat(
		domainTypeHash,
		ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		uint256Bytes(big.NewInt(chainID)),
		common.LeftPadBytes(common.HexToAddress(exchangeAddr).Bytes(), 32),
	))
	return s, nil
}

// Address returns the follower wallet address.
func (s *WalletSigner) Address() common.Address { return s.address }

// SignAuth signs the ClobAuth message used by the derive-api-key flow.
func (s *WalletSigner) SignAuth(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(concat(
		authTypeHash,
		common.LeftPadBytes(s.address.Bytes(), 32),
		uint256Bytes(big.NewInt(timestamp)),
		uint256Bytes(big.NewInt(nonce)),
	))
	return s.sign(typedDataDigest(s.authDomainSep, structHash))
}

// BuildOrder constructs and signs an exchange order. Amounts arrive as USDC
// notional and a limit price; maker/taker amounts are derived in base units
// (USDC 6 decimals, shares 6 decimals) per side.
func (s *WalletSigner) BuildOrder(tokenID string, side domain.OrderSide, notionalUSD, limitPrice float64) (SignedOrder, error) {
	if limitPrice <= 0 || limitPrice >= 1 {
		return SignedOrder{}, fmt.Errorf("crypto: %w: limit price %v out of range", domain.ErrSigningFailed, limitPrice)
	}

	usdc := big.NewInt(int64(notionalUSD * 1e6))
	shares := big.NewInt(int64(notionalUSD / limitPrice * 1e6))

	order := SignedOrder{
		Salt:       newSalt(),
		Maker:      s.address.Hex(),
		Signer:     s.address.Hex(),
		Taker:      "0x0000000000000000000000000000000000000000",
		TokenID:    tokenID,
		Expiration: "0",
		Nonce:      "0",
		FeeRateBps: "0",
	}
	if side == domain.OrderSideBuy {
		order.Side = 0
		order.MakerAmount = usdc.String()
		order.TakerAmount = shares.String()
	} else {
		order.Side = 1
		order.MakerAmount = shares.String()
		order.TakerAmount = usdc.String()
	}

	structHash, err := orderStructHash(order)
	if err != nil {
		return SignedOrder{}, err
	}
	sig, err := s.sign(typedDataDigest(s.orderDomain, structHash))
	if err != nil {
		return SignedOrder{}, err
	}
	order.Signature = sig
	return order, nil
}

func (s *WalletSigner) sign(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: %w: %v", domain.ErrSigningFailed, err)
	}
	// go-ethereum yields v in {0,1}; the exchange expects {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// typedDataDigest is keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataDigest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concat([]byte{0x19, 0x01}, domainSep, structHash))
}

func orderStructHash(o SignedOrder) ([]byte, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	ints := make([]*big.Int, len(fields))
	for i, f := range fields {
		n, ok := new(big.Int).SetString(f.value, 10)
		if !ok {
			return nil, fmt.Errorf("crypto: %w: invalid %s %q", domain.ErrSigningFailed, f.name, f.value)
		}
		ints[i] = n
	}

	return ethcrypto.Keccak256(concat(
		orderTypeHash,
		uint256Bytes(ints[0]),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		uint256Bytes(ints[1]),
		uint256Bytes(ints[2]),
		uint256Bytes(ints[3]),
		uint256Bytes(ints[4]),
		uint256Bytes(ints[5]),
		uint256Bytes(ints[6]),
		uint256Bytes(big.NewInt(int64(o.Side))),
		uint256Bytes(big.NewInt(int64(o.SignatureType))),
	)), nil
}

func newSalt() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0"
	}
	return new(big.Int).SetBytes(b[:]).String()
}

func uint256Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concat(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}
