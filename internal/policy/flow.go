package policy

import "policy-search/internal/flow"

// RegisterFlow defines policyQueryFlow on r, bound to s.
func RegisterFlow(r *flow.Registry, s *Service) *flow.Flow[PolicyQuery, PolicyResponse] {
	return flow.Define(r, FlowName, s.QueryFlow)
}
