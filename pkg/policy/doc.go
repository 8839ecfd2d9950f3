// Package policy defines the policy evaluator contract the request path
// depends on, plus a file-backed rule engine implementing it for
// deployments without an external policy service. Evaluation is bounded
// by a deadline and fails closed on expiry unless the policy set is
// explicitly marked fail-open.
package policy
