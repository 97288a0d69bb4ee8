package polymarket

// auth.go implements the venue's two-level authentication and the
// EIP-712 order signing ports.Signer needs:
//
//	L1: EIP-712 signature with the wallet private key, used once to
//	    derive API credentials.
//	L2: HMAC-SHA256 signing of every authenticated CLOB request,
//	    regenerated per attempt so the timestamp stays fresh.

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	polyconfig "github.com/polymarket/go-order-utils/pkg/config"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"

	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/ports"
)

const (
	polygonChainID = int64(137)

	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// apiCredentials holds the CLOB API credentials derived from a wallet
// via L1 auth.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// signer implements ports.Signer against the real Polymarket CLOB. It
// embeds the shared HTTP transport so it can also drive L2 requests
// for the clobClient that holds it.
type signer struct {
	*client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	contracts    *polyconfig.Contracts
	orderBuilder builder.ExchangeOrderBuilder
	creds        *apiCredentials
}

// newSigner derives a signer's wallet identity from a Polygon private
// key (hex, no 0x prefix). API credentials are derived lazily on the
// first EnsureCreds call.
func newSigner(c *client, privateKeyHex string) (*signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}

	contracts, err := polyconfig.GetContracts(polygonChainID)
	if err != nil {
		return nil, fmt.Errorf("signer: get contracts: %w", err)
	}

	return &signer{
		client:       c,
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		contracts:    contracts,
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address returns the wallet's Polygon address.
func (s *signer) Address() string {
	return s.address.Hex()
}

// EnsureCreds derives (or reuses) API credentials via L1 auth.
func (s *signer) EnsureCreds(ctx context.Context) error {
	if s.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := s.signClobAuth(ts, "0")
	if err != nil {
		return fmt.Errorf("signer: sign l1: %w", err)
	}

	url := s.clobBase + "/auth/derive-api-key"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("signer: derive-api-key request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", s.address.Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("signer: derive-api-key: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signer: derive-api-key status %d: %s", resp.StatusCode, body)
	}

	var creds apiCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return fmt.Errorf("signer: parse creds: %w", err)
	}
	s.creds = &creds
	return nil
}

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

func clobAuthDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// signClobAuth signs the ClobAuth EIP-712 typed data used for L1 auth.
func (s *signer) signClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}

	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(s.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(nonceInt.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, clobAuthDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	msgHash := crypto.Keccak256Hash(rawBuf)

	sig, err := crypto.Sign(msgHash.Bytes(), s.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// l2Headers returns the authenticated headers for one L2 API call.
func (s *signer) l2Headers(method, path, body string) (map[string]string, error) {
	if s.creds == nil {
		return nil, fmt.Errorf("signer: credentials not derived yet")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := ts + strings.ToUpper(method) + path + body

	secretBytes, err := base64.URLEncoding.DecodeString(s.creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("signer: decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    s.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    s.creds.APIKey,
		"POLY_PASSPHRASE": s.creds.Passphrase,
	}, nil
}

// doL2 executes an authenticated L2 request, regenerating HMAC headers
// on every retry attempt so the timestamp never goes stale.
func (s *signer) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyStr string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		bodyStr = string(b)
	}

	fullURL := s.clobBase + path

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := s.waitForToken(ctx, s.orderLimiter); err != nil {
			return err
		}

		headers, err := s.l2Headers(method, path, bodyStr)
		if err != nil {
			return err
		}

		var bodyReader io.Reader
		if bodyStr != "" {
			bodyReader = strings.NewReader(bodyStr)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			s.sleep(ctx, attempt)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return domain.ErrRateLimited
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return domain.ErrAuthFailed
		case resp.StatusCode == http.StatusNotFound:
			return domain.ErrOrderNotFound
		case resp.StatusCode >= 500:
			if attempt == maxRetries {
				return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
			}
			s.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			return fmt.Errorf("client error %d: %s", resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// SignOrder builds and signs a GTC post-only buy order, returning the
// exact fields the CLOB /order endpoint expects. Uses integer
// arithmetic throughout: the API verifies makerAmount == price *
// takerAmount exactly, and float64 multiplication would occasionally
// miss that by a unit.
func (s *signer) SignOrder(ctx context.Context, req ports.OrderRequest) (ports.SignedOrder, error) {
	if err := s.EnsureCreds(ctx); err != nil {
		return ports.SignedOrder{}, fmt.Errorf("sign order: creds: %w", err)
	}

	pricePrecision := detectPricePrecision(req.Price)
	priceInt := int64(math.Round(req.Price * float64(pricePrecision)))
	sharesCents := int64(math.Floor(req.Size / req.Price * 100))

	amountFactor := int64(1_000_000) / (100 * pricePrecision)
	makerAmount := sharesCents * priceInt * amountFactor
	takerAmount := sharesCents * 10000

	if makerAmount <= 0 || takerAmount <= 0 {
		return ports.SignedOrder{}, fmt.Errorf("sign order: invalid amounts: maker=%d taker=%d (price=%.4f size=%.4f)",
			makerAmount, takerAmount, req.Price, req.Size)
	}

	verifyingContract := gomodel.CTFExchange
	if req.NegRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	}

	orderData := &gomodel.OrderData{
		Maker:         s.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        s.address.Hex(),
		Expiration:    "0",
		Side:          gomodel.BUY,
		SignatureType: gomodel.EOA,
	}

	signed, err := s.orderBuilder.BuildSignedOrder(s.privateKey, orderData, verifyingContract)
	if err != nil {
		return ports.SignedOrder{}, fmt.Errorf("sign order: build: %w", err)
	}

	return ports.SignedOrder{Payload: map[string]any{
		"salt":          signed.Order.Salt.String(),
		"maker":         signed.Order.Maker.Hex(),
		"signer":        signed.Order.Signer.Hex(),
		"taker":         signed.Order.Taker.Hex(),
		"tokenId":       req.TokenID,
		"makerAmount":   signed.Order.MakerAmount.String(),
		"takerAmount":   signed.Order.TakerAmount.String(),
		"expiration":    signed.Order.Expiration.String(),
		"nonce":         signed.Order.Nonce.String(),
		"feeRateBps":    signed.Order.FeeRateBps.String(),
		"side":          "BUY",
		"signatureType": int(signed.Order.SignatureType.Int64()),
		"signature":     "0x" + hex.EncodeToString(signed.Signature),
		"owner":         s.creds.APIKey,
		"clientID":      req.ClientID,
	}}, nil
}

// detectPricePrecision returns the multiplier matching the market's
// tick size, e.g. price=0.60 -> 100 (tick 0.01), price=0.673 -> 1000
// (tick 0.001).
func detectPricePrecision(price float64) int64 {
	for _, prec := range []int64{100, 1000, 10000} {
		rounded := math.Round(price * float64(prec))
		if math.Abs(rounded/float64(prec)-price) < 1e-10 {
			return prec
		}
	}
	return 100
}
