package polymarket

// clob.go implements ports.ClobClient against the real Polymarket CLOB
// order endpoints, submitting the payload signer.SignOrder produced.

import (
	"encoding/json"
	"fmt"
	"net/http"

	"context"

	"github.com/alejandrodnm/pmmaker/internal/ports"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
	PostOnly  bool          `json:"postOnly"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	Success  bool   `json:"success"`
}

type cancelMarketRequest struct {
	Market string `json:"market"`
}

// ClobClient submits orders signed by a signer against the real
// Polymarket CLOB. It implements ports.ClobClient.
type ClobClient struct {
	signer *signer
}

// NewClobClient wires a signer to the ClobClient it authenticates for.
func NewClobClient(s *signer) *ClobClient {
	return &ClobClient{signer: s}
}

// PlaceOrder signs req and submits it as a GTC post-only buy order.
func (cc *ClobClient) PlaceOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderAck, error) {
	signed, err := cc.signer.SignOrder(ctx, req)
	if err != nil {
		return ports.OrderAck{}, fmt.Errorf("clob: place order: %w", err)
	}

	p := signed.Payload
	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(p["salt"].(string)),
			Maker:         p["maker"].(string),
			Signer:        p["signer"].(string),
			Taker:         p["taker"].(string),
			TokenID:       p["tokenId"].(string),
			MakerAmount:   p["makerAmount"].(string),
			TakerAmount:   p["takerAmount"].(string),
			Expiration:    p["expiration"].(string),
			Nonce:         p["nonce"].(string),
			FeeRateBps:    p["feeRateBps"].(string),
			Side:          p["side"].(string),
			SignatureType: p["signatureType"].(int),
			Signature:     p["signature"].(string),
		},
		Owner:     p["owner"].(string),
		OrderType: "GTC",
		PostOnly:  true,
	}

	var resp clobOrderResponse
	if err := cc.signer.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return ports.OrderAck{}, fmt.Errorf("clob: place order: post: %w", err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return ports.OrderAck{}, fmt.Errorf("clob: place order: venue rejected: %s", resp.ErrorMsg)
	}

	return ports.OrderAck{OrderID: resp.OrderID, Status: resp.Status}, nil
}

// CancelOrder cancels a single order by its CLOB order ID.
func (cc *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := cc.signer.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("clob: cancel order: creds: %w", err)
	}
	path := "/order/" + orderID
	if err := cc.signer.doL2(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("clob: cancel order %s: %w", orderID, err)
	}
	return nil
}

// CancelMarket cancels every open order the wallet holds in one market,
// used by the rotation supervisor when a market expires.
func (cc *ClobClient) CancelMarket(ctx context.Context, conditionID string) error {
	if err := cc.signer.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("clob: cancel market: creds: %w", err)
	}
	body := cancelMarketRequest{Market: conditionID}
	if err := cc.signer.doL2(ctx, http.MethodDelete, "/orders", body, nil); err != nil {
		return fmt.Errorf("clob: cancel market %s: %w", conditionID, err)
	}
	return nil
}
