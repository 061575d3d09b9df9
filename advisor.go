// FILE: advisor.go
// Package main – Optional advisory override over the rule engine.
//
// When ADVISOR_URL is set, each full decision pass POSTs a JSON snapshot
// (market context, account state, and the rule engine's recommendation) and
// expects a decision object back. The response body is parsed leniently:
// the first {...} block found in the text is decoded, so advisors that wrap
// JSON in prose still work. Every advisory decision is clamped against the
// actual position state before use; any failure falls back to the rule
// decision with the failure tagged in the reasoning.
package main

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

// Advisor calls an external decision endpoint.
type Advisor struct {
	URL    string
	Prompt string
	Client *http.Client
}

// NewAdvisor returns nil when url is empty (advisory disabled).
func NewAdvisor(url, prompt string, timeoutSec int) *Advisor {
	if url == "" {
		return nil
	}
	if timeoutSec < 1 {
		timeoutSec = 30
	}
	return &Advisor{
		URL:    url,
		Prompt: prompt,
		Client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// advisorRequest is the snapshot sent to the advisor.
type advisorRequest struct {
	Prompt         string            `json:"prompt,omitempty"`
	Symbol         string            `json:"symbol"`
	Price          float64           `json:"price"`
	Trend          string            `json:"trend"`
	EmaFast        float64           `json:"ema_fast"`
	EmaSlow        float64           `json:"ema_slow"`
	Rsi            float64           `json:"rsi"`
	Funding        float64           `json:"funding"`
	OpenInterest   float64           `json:"open_interest"`
	BidDepth       float64           `json:"bid_depth"`
	AskDepth       float64           `json:"ask_depth"`
	Equity         float64           `json:"equity"`
	Position       *PositionSnapshot `json:"position,omitempty"`
	Recommendation Decision          `json:"recommendation"`
}

// advisorResponse is the decision shape expected back.
type advisorResponse struct {
	Action    string  `json:"action"`
	Size      float64 `json:"size"`
	StopPrice float64 `json:"stop_price"`
	Reasoning string  `json:"reasoning"`
}

// Decide asks the advisor to confirm or override the rule decision. On any
// error the rule decision is returned with the failure noted, so the caller
// always gets a valid decision.
func (a *Advisor) Decide(ctx context.Context, cfg *Config, mkt MarketSnapshot,
	acct AccountSnapshot, rule Decision) Decision {

	pos := findPosition(acct.Positions, mkt.Symbol)
	ind := computeIndicators(mkt.LowerTF)
	req := advisorRequest{
		Prompt:         a.Prompt,
		Symbol:         mkt.Symbol,
		Price:          mkt.Price,
		Trend:          detectTrend(mkt.TrendTF, mkt.LowerTF).String(),
		EmaFast:        last(ind.EmaFast),
		EmaSlow:        last(ind.EmaSlow),
		Rsi:            last(ind.Rsi),
		Funding:        mkt.Funding,
		OpenInterest:   mkt.OpenInt,
		BidDepth:       mkt.BidDepth,
		AskDepth:       mkt.AskDepth,
		Equity:         acct.Equity,
		Position:       pos,
		Recommendation: rule,
	}

	resp, err := a.post(ctx, req)
	if err != nil {
		return fallback(rule, err)
	}

	d := Decision{
		Symbol:    mkt.Symbol,
		Action:    Action(strings.ToUpper(strings.TrimSpace(resp.Action))),
		Size:      resp.Size,
		StopPrice: resp.StopPrice,
		Reasoning: resp.Reasoning,
		Advisory:  true,
		Time:      time.Now().Unix(),
	}
	if d.Reasoning == "" {
		d.Reasoning = "advisor returned no reasoning"
	}
	return clampAdvisory(d, rule, pos)
}

// post sends the request and decodes the (possibly prose-wrapped) response.
func (a *Advisor) post(ctx context.Context, req advisorRequest) (*advisorResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("advisor marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("advisor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("advisor call: %w", err)
	}
	defer httpResp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("advisor read: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisor status %d: %s", httpResp.StatusCode, truncate(string(raw), 200))
	}
	obj := extractJSONObject(string(raw))
	if obj == "" {
		return nil, fmt.Errorf("advisor response has no JSON object: %s", truncate(string(raw), 200))
	}
	var out advisorResponse
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return nil, fmt.Errorf("advisor decode: %w", err)
	}
	return &out, nil
}

// extractJSONObject finds the first balanced {...} block in text. Advisors
// frequently wrap the payload in markdown fences or commentary.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// clampAdvisory sanity-checks an advisory decision against the real
// position state. Impossible actions degrade to the rule decision.
func clampAdvisory(d, rule Decision, pos *PositionSnapshot) Decision {
	switch d.Action {
	case ActionBuy, ActionSell:
		if pos != nil {
			return fallback(rule, fmt.Errorf("advisor opened %s while %s position exists", d.Action, pos.Side))
		}
		if d.Size <= 0 {
			d.Size = rule.Size
		}
		if d.Size <= 0 || d.StopPrice <= 0 {
			return fallback(rule, fmt.Errorf("advisor entry missing size or stop"))
		}
	case ActionClose, ActionUpdateTPSL:
		if pos == nil {
			return fallback(rule, fmt.Errorf("advisor sent %s with no open position", d.Action))
		}
		if d.Action == ActionUpdateTPSL && d.StopPrice <= 0 {
			d.StopPrice = rule.StopPrice
		}
	case ActionHold:
		// Always valid.
	default:
		return fallback(rule, fmt.Errorf("advisor sent unknown action %q", d.Action))
	}
	return d
}

// fallback tags the rule decision with the advisory failure.
func fallback(rule Decision, err error) Decision {
	rule.Reasoning = fmt.Sprintf("%s (advisor fallback: %v)", rule.Reasoning, err)
	return rule
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
