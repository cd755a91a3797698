// Package relay submits signed transactions privately, bypassing the public mempool.
package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Relay accepts a signed transaction for private inclusion and returns its hash.
type Relay interface {
	Submit(ctx context.Context, raw []byte) (common.Hash, error)
	URL() string
}

const protectPrefix = "protect:"

// Dial picks the client for url: a "protect:" prefix selects the Flashbots
// Protect client, anything else the signed JSON-RPC client. authKey signs the
// X-Flashbots-Signature header and is never used for transactions.
func Dial(url string, authKey *ecdsa.PrivateKey, timeout time.Duration) (Relay, error) {
	u := strings.TrimSpace(url)
	if u == "" {
		return nil, errors.New("empty relay url")
	}
	if strings.HasPrefix(strings.ToLower(u), protectPrefix) {
		return DialProtect(u[len(protectPrefix):], authKey, timeout)
	}
	return NewHTTPRelay(u, authKey, timeout), nil
}

// AuthKeyFromHex parses the relay reputation key, generating an ephemeral one when empty.
func AuthKeyFromHex(h string) (*ecdsa.PrivateKey, error) {
	h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
	if h == "" {
		return gethcrypto.GenerateKey()
	}
	key, err := gethcrypto.HexToECDSA(h)
	if err != nil {
		return nil, errors.New("auth key: invalid hex key")
	}
	return key, nil
}

// HTTPRelay posts eth_sendPrivateTransaction to a Flashbots-compatible endpoint.
type HTTPRelay struct {
	url     string
	authKey *ecdsa.PrivateKey
	http    *http.Client
}

func NewHTTPRelay(url string, authKey *ecdsa.PrivateKey, timeout time.Duration) *HTTPRelay {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPRelay{url: url, authKey: authKey, http: &http.Client{Timeout: timeout}}
}

func (c *HTTPRelay) URL() string { return c.url }

type rpcReq struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcResp struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type privateTxParams struct {
	Tx          string               `json:"tx"`
	Preferences privateTxPreferences `json:"preferences"`
}

type privateTxPreferences struct {
	Fast bool `json:"fast"`
}

// signBody signs the EIP-191 hash of the hex body digest, as Flashbots expects.
func (c *HTTPRelay) signBody(b []byte) (string, error) {
	addr := gethcrypto.PubkeyToAddress(c.authKey.PublicKey)
	sig, err := gethcrypto.Sign(accounts.TextHash([]byte(gethcrypto.Keccak256Hash(b).Hex())), c.authKey)
	if err != nil {
		return "", err
	}
	return addr.Hex() + ":" + hexutil.Encode(sig), nil
}

// Submit fails on transport errors, non-200 statuses, JSON-RPC errors and
// responses without a transaction hash.
func (c *HTTPRelay) Submit(ctx context.Context, raw []byte) (common.Hash, error) {
	body, err := json.Marshal(rpcReq{
		Jsonrpc: "2.0",
		Method:  "eth_sendPrivateTransaction",
		Params:  []any{privateTxParams{Tx: hexutil.Encode(raw), Preferences: privateTxPreferences{Fast: true}}},
		ID:      1,
	})
	if err != nil {
		return common.Hash{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mempool-searcher/1.0")
	if c.authKey != nil {
		sig, err := c.signBody(body)
		if err != nil {
			return common.Hash{}, err
		}
		req.Header.Set("X-Flashbots-Signature", sig)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return common.Hash{}, err
	}
	defer resp.Body.Close()
	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return common.Hash{}, fmt.Errorf("relay http %d: %s", resp.StatusCode, truncate(string(rb), 200))
	}
	var out rpcResp
	if err := json.Unmarshal(rb, &out); err != nil {
		return common.Hash{}, fmt.Errorf("relay response: %w", err)
	}
	if out.Error != nil {
		return common.Hash{}, fmt.Errorf("relay error %d: %s", out.Error.Code, out.Error.Message)
	}
	var s string
	if err := json.Unmarshal(out.Result, &s); err != nil || !isHash(s) {
		return common.Hash{}, fmt.Errorf("relay response: no transaction hash in %s", truncate(string(out.Result), 100))
	}
	return common.HexToHash(s), nil
}

func isHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
