package polymarket

// gamma.go implements ports.MarketResolver: it finds the next active
// market matching a slug prefix via Gamma, then reads its tokens and
// tick size from the CLOB market endpoint.

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/pmmaker/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	clobMarketsPath  = "/markets"
)

type gammaMarketRaw struct {
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	StartDateISO string `json:"startDateIso"`
	EndDateISO   string `json:"endDateIso"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
}

type clobMarketRaw struct {
	ConditionID     string          `json:"condition_id"`
	Tokens          []clobTokenRaw  `json:"tokens"`
	MinimumTickSize string          `json:"minimum_tick_size"`
	NegRisk         bool            `json:"neg_risk"`
	EndDateISO      string          `json:"end_date_iso"`
	Active          bool            `json:"active"`
	Closed          bool            `json:"closed"`
}

type clobTokenRaw struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// Resolver implements ports.MarketResolver.
type Resolver struct {
	c          *client
	entryGrace time.Duration
}

// NewResolver builds a Resolver over the shared HTTP transport. entryGrace
// bounds how late the process may join a window that has already opened;
// a candidate window older than that is skipped in favor of the next
// instance of the series.
func NewResolver(c *client, entryGrace time.Duration) *Resolver {
	return &Resolver{c: c, entryGrace: entryGrace}
}

// Resolve finds the market whose slug starts with slugPrefix, is active
// and unclosed, expires soonest among those not already stale beyond
// entryGrace — the next joinable instance of a recurring market series —
// then fills in its CLOB-side token IDs and tick size.
func (r *Resolver) Resolve(ctx context.Context, slugPrefix string) (domain.Market, error) {
	url := fmt.Sprintf("%s%s?active=true&closed=false&limit=100", r.c.gammaBase, gammaMarketsPath)

	var raws []gammaMarketRaw
	if err := r.c.get(ctx, r.c.gammaLimiter, url, nil, &raws); err != nil {
		return domain.Market{}, fmt.Errorf("resolver: fetch gamma markets: %w", err)
	}

	candidates := make([]gammaMarketRaw, 0, len(raws))
	for _, m := range raws {
		if len(m.Slug) >= len(slugPrefix) && m.Slug[:len(slugPrefix)] == slugPrefix {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return domain.Market{}, fmt.Errorf("resolver: no active market matches prefix %q", slugPrefix)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].EndDateISO < candidates[j].EndDateISO
	})

	picked, ok := r.pickJoinable(candidates)
	if !ok {
		return domain.Market{}, fmt.Errorf("resolver: every window matching prefix %q is more than %s past open, waiting for the next one", slugPrefix, r.entryGrace)
	}

	clobURL := fmt.Sprintf("%s%s/%s", r.c.clobBase, clobMarketsPath, picked.ConditionID)
	var cm clobMarketRaw
	if err := r.c.get(ctx, r.c.generalLimiter, clobURL, nil, &cm); err != nil {
		return domain.Market{}, fmt.Errorf("resolver: fetch clob market %s: %w", picked.ConditionID, err)
	}

	yesTok, noTok, err := splitTokens(cm.Tokens)
	if err != nil {
		return domain.Market{}, fmt.Errorf("resolver: %s: %w", picked.ConditionID, err)
	}

	tick, err := strconv.ParseFloat(cm.MinimumTickSize, 64)
	if err != nil || tick <= 0 {
		tick = 0.001
	}

	expires, err := time.Parse(time.RFC3339, cm.EndDateISO)
	if err != nil {
		expires, err = time.Parse(time.RFC3339, picked.EndDateISO)
		if err != nil {
			expires = time.Time{}
		}
	}

	return domain.Market{
		Slug:        picked.Slug,
		ConditionID: picked.ConditionID,
		YesTokenID:  yesTok,
		NoTokenID:   noTok,
		TickSize:    tick,
		NegRisk:     cm.NegRisk,
		ExpiresAt:   expires,
	}, nil
}

// pickJoinable returns the earliest-expiring candidate whose window
// opened no more than entryGrace ago, skipping any that opened too long
// ago to safely join the middle of. A window that hasn't opened yet, or
// carries no parseable start time, is always joinable.
func (r *Resolver) pickJoinable(candidates []gammaMarketRaw) (gammaMarketRaw, bool) {
	for _, c := range candidates {
		start, err := time.Parse(time.RFC3339, c.StartDateISO)
		if err != nil {
			return c, true
		}
		if late := time.Since(start); late <= r.entryGrace {
			return c, true
		}
	}
	return gammaMarketRaw{}, false
}

func splitTokens(tokens []clobTokenRaw) (yes, no string, err error) {
	for _, t := range tokens {
		switch t.Outcome {
		case "Yes", "YES", "yes":
			yes = t.TokenID
		case "No", "NO", "no":
			no = t.TokenID
		}
	}
	if yes == "" || no == "" {
		return "", "", fmt.Errorf("could not identify both YES and NO tokens")
	}
	return yes, no, nil
}
