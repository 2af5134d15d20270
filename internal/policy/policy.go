// Package policy decides which models a plan may invoke and whether the
// caller must bring an upstream key.
package policy

import (
	"fmt"
	"strings"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/config"
	"github.com/iliyamo/refactor-gateway/internal/model"
)

// Pro plan handling of aggregator-tier models.
const (
	ProAggregatorDeny  = "deny"
	ProAggregatorAllow = "allow"
)

// Reason codes carried in denial data.
const (
	ReasonUnknownModel   = "unknown_model"
	ReasonPlanRequired   = "plan_required"
	ReasonCallerKey      = "caller_key_required"
	ReasonUsePremiumTier = "use_premium_model"
)

// KeySource says which upstream credentials the dispatcher should use.
type KeySource string

const (
	KeysServer KeySource = "server"
	KeysCaller KeySource = "caller"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed   bool
	Code      string
	Reason    string
	Available []string
	Binding   config.ModelBinding
	Keys      KeySource
}

// Err returns nil for an allowed decision and a policy error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Code == ReasonUnknownModel {
		return apperror.Validation(d.Reason).WithData(map[string]any{"supported": d.Available})
	}
	return apperror.Policy(d.Reason).WithData(map[string]any{"reason": d.Code, "available": d.Available})
}

// Policy evaluates requests against the model catalog.
type Policy struct {
	catalog       config.Catalog
	proAggregator string
}

func New(catalog config.Catalog, proAggregator string) *Policy {
	if proAggregator != ProAggregatorAllow {
		proAggregator = ProAggregatorDeny
	}
	return &Policy{catalog: catalog, proAggregator: proAggregator}
}

// Evaluate has no side effects. Premium models are pro-only. Aggregator
// models are open to free callers that supply their own key; pro callers
// are either denied or served from the server key pool depending on the
// configured policy.
func (p *Policy) Evaluate(plan model.Plan, requested string, hasCallerKey bool) Decision {
	binding, ok := p.catalog.Lookup(requested)
	if !ok {
		supported := p.catalog.Names("")
		return Decision{
			Code:      ReasonUnknownModel,
			Reason:    fmt.Sprintf("Unknown model %q. Supported models: %s.", requested, strings.Join(supported, ", ")),
			Available: supported,
		}
	}

	switch binding.Tier {
	case config.TierPremium:
		if plan == model.PlanPro {
			return Decision{Allowed: true, Binding: binding, Keys: KeysServer}
		}
		free := p.Available(model.PlanFree)
		return Decision{
			Code: ReasonPlanRequired,
			Reason: fmt.Sprintf("%s requires the Pro plan. Models available on your plan with your own aggregator API key: %s.",
				displayName(binding), strings.Join(free, ", ")),
			Available: free,
			Binding:   binding,
		}

	case config.TierAggregator:
		if plan == model.PlanPro {
			if p.proAggregator == ProAggregatorAllow {
				return Decision{Allowed: true, Binding: binding, Keys: KeysServer}
			}
			premium := p.Available(model.PlanPro)
			return Decision{
				Code:      ReasonUsePremiumTier,
				Reason:    fmt.Sprintf("Your Pro plan is served by premium models. Please select one of: %s.", strings.Join(premium, ", ")),
				Available: premium,
				Binding:   binding,
			}
		}
		if !hasCallerKey {
			return Decision{
				Code:      ReasonCallerKey,
				Reason:    fmt.Sprintf("%s requires your own aggregator API key. Add it to the request or upgrade to Pro.", displayName(binding)),
				Available: p.Available(model.PlanFree),
				Binding:   binding,
			}
		}
		return Decision{Allowed: true, Binding: binding, Keys: KeysCaller}
	}

	return Decision{Code: ReasonUnknownModel, Reason: fmt.Sprintf("model %q has no usable tier", requested)}
}

// Available lists the models plan may request.
func (p *Policy) Available(plan model.Plan) []string {
	if plan == model.PlanPro {
		names := p.catalog.Names(config.TierPremium)
		if p.proAggregator == ProAggregatorAllow {
			names = append(names, p.catalog.Names(config.TierAggregator)...)
		}
		return names
	}
	return p.catalog.Names(config.TierAggregator)
}

// ModelInfo describes a catalog entry for the public model listing.
type ModelInfo struct {
	Name              string       `json:"name"`
	DisplayName       string       `json:"displayName"`
	Tier              string       `json:"tier"`
	Plans             []model.Plan `json:"plans"`
	RequiresCallerKey bool         `json:"requiresCallerKey"`
}

// Models returns the catalog annotated with plan access.
func (p *Policy) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(p.catalog.Models))
	for _, m := range p.catalog.Models {
		info := ModelInfo{Name: m.Name, DisplayName: displayName(m), Tier: m.Tier}
		switch m.Tier {
		case config.TierPremium:
			info.Plans = []model.Plan{model.PlanPro}
		case config.TierAggregator:
			info.Plans = []model.Plan{model.PlanFree}
			info.RequiresCallerKey = true
			if p.proAggregator == ProAggregatorAllow {
				info.Plans = append(info.Plans, model.PlanPro)
			}
		}
		out = append(out, info)
	}
	return out
}

func displayName(m config.ModelBinding) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}
