package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/config"
)

// ChargeRequest is what a provider client sends downstream. Credentials
// are the project's decrypted blob for this provider.
type ChargeRequest struct {
	PaymentID   string            `json:"payment_id"`
	ProjectID   string            `json:"project_id"`
	Amount      int64             `json:"amount"`
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Credentials json.RawMessage   `json:"credentials"`
}

type ChargeResult struct {
	ProviderRef string `json:"id"`
}

// Provider is a downstream payment provider client guarded by a breaker.
type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

type HTTPProvider struct {
	name       string
	baseURL    string
	chargePath string
	client     *http.Client
	br         *MicroBreaker
}

func NewHTTPProvider(name, baseURL, chargePath string, timeoutMs, failThreshold, openForMs int) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if openForMs <= 0 {
		openForMs = 15000
	}
	if chargePath == "" {
		chargePath = "/charges"
	}

	return &HTTPProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		chargePath: chargePath,
		client:     &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:         NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

// NewProviders builds a client per enabled provider, keyed by lowercase name.
func NewProviders(cfgs []config.ProviderConfig) map[string]Provider {
	out := make(map[string]Provider, len(cfgs))
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(c.Name))
		out[name] = NewHTTPProvider(name, c.BaseURL, c.ChargePath, c.TimeoutMs, c.Breaker.FailThreshold, c.Breaker.OpenForMs)
	}
	return out
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

// Charge posts req and feeds the outcome into the breaker. The caller must
// have called Acquire.
func (p *HTTPProvider) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	res, err := p.post(ctx, req)
	if err != nil {
		p.br.OnFailure()
		return ChargeResult{}, err
	}
	p.br.OnSuccess()
	return res, nil
}

func (p *HTTPProvider) post(ctx context.Context, charge ChargeRequest) (ChargeResult, error) {
	b, err := json.Marshal(charge)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("provider=%s encode: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.chargePath, bytes.NewReader(b))
	if err != nil {
		return ChargeResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", charge.PaymentID)

	res, err := p.client.Do(req)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("provider=%s: %w", p.name, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, res.Body)
		return ChargeResult{}, fmt.Errorf("provider=%s path=%s status=%d", p.name, p.chargePath, res.StatusCode)
	}

	var out ChargeResult
	// a 2xx without a JSON body still counts as a successful charge
	_ = json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&out)
	return out, nil
}
