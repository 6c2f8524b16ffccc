package blocksource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TronSource talks to a TronGrid compatible HTTP API: the full node for the
// head, the solidity node for block ids.
type TronSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewTronSource(baseURL, apiKey string, timeout time.Duration) *TronSource {
	return &TronSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type tronBlock struct {
	BlockID     string `json:"blockID"`
	BlockHeader struct {
		RawData struct {
			Number    int64 `json:"number"`
			Timestamp int64 `json:"timestamp"`
		} `json:"raw_data"`
	} `json:"block_header"`
}

func (s *TronSource) Name() string { return "tron" }

func (s *TronSource) CurrentHeight(ctx context.Context) (int64, error) {
	var b tronBlock
	if err := s.post(ctx, "/wallet/getnowblock", nil, &b); err != nil {
		return 0, err
	}
	if b.BlockID == "" {
		return 0, fmt.Errorf("tron getnowblock: empty response")
	}
	return b.BlockHeader.RawData.Number, nil
}

// BlockID returns the hash of the block at height once it is solidified,
// about 19 blocks behind the head. The solidity node answers an empty object
// for heights it has not confirmed yet.
func (s *TronSource) BlockID(ctx context.Context, height int64) (string, error) {
	var b tronBlock
	if err := s.post(ctx, "/walletsolidity/getblockbynum", map[string]int64{"num": height}, &b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	if b.BlockID == "" {
		return "", fmt.Errorf("%w: height %d", ErrBlockUnavailable, height)
	}
	if n := b.BlockHeader.RawData.Number; n != height {
		return "", fmt.Errorf("tron walletsolidity/getblockbynum: asked for %d, got %d", height, n)
	}
	return b.BlockID, nil
}

func (s *TronSource) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("tron %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tron %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tron %s: decode: %w", path, err)
	}
	return nil
}
