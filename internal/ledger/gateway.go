package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Gateway calls the contract through a REST ledger gateway that exposes
// POST /submit (ordered transaction) and POST /evaluate (query).
type Gateway struct {
	http      *http.Client
	url       string
	channel   string
	chaincode string
	token     string
	logger    *slog.Logger
}

// NewGateway builds a gateway client. httpClient bounds every call.
func NewGateway(cfg *Config, httpClient *http.Client, logger *slog.Logger) *Gateway {
	return &Gateway{
		http:      httpClient,
		url:       strings.TrimSuffix(cfg.URL, "/"),
		channel:   cfg.Channel,
		chaincode: cfg.Chaincode,
		token:     cfg.Token,
		logger:    logger.With("system", "ledger", "provider", ProviderGateway),
	}
}

type invocation struct {
	Channel   string   `json:"channel"`
	Chaincode string   `json:"chaincode"`
	Function  string   `json:"function"`
	Args      []string `json:"args"`
}

type submitResponse struct {
	TxID string `json:"txId"`
}

type evaluateResponse struct {
	Result json.RawMessage `json:"result"`
}

func (g *Gateway) AddEvent(ctx context.Context, eventType, batchID, payloadJSON, ipfsHash string) (Receipt, error) {
	var resp submitResponse
	err := g.call(ctx, "/submit", invocation{
		Channel:   g.channel,
		Chaincode: g.chaincode,
		Function:  "AddEvent",
		Args:      []string{eventType, batchID, payloadJSON, ipfsHash},
	}, &resp)
	if err != nil {
		return Receipt{}, err
	}
	if resp.TxID == "" {
		return Receipt{}, ErrNoReceipt
	}

	g.logger.Debug("ledger event submitted", "batch_id", batchID, "event_type", eventType, "tx_id", resp.TxID)
	return Receipt{TxID: resp.TxID}, nil
}

func (g *Gateway) GetEvents(ctx context.Context, batchID string) ([]Entry, error) {
	var resp evaluateResponse
	err := g.call(ctx, "/evaluate", invocation{
		Channel:   g.channel,
		Chaincode: g.chaincode,
		Function:  "GetEvents",
		Args:      []string{batchID},
	}, &resp)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0)
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return entries, nil
	}
	if err := json.Unmarshal(resp.Result, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode events: %w", ErrGateway, err)
	}
	return entries, nil
}

func (g *Gateway) call(ctx context.Context, path string, body invocation, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrGateway, body.Function, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d: %s", ErrGateway, body.Function, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrGateway, err)
	}
	return nil
}
