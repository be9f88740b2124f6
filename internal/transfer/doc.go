// Package transfer implements the policy-gated, simulate-then-execute
// native transfer pipeline:
//
//	requested -> policy_checked -> simulated -> submitted -> confirmed
//
// with the terminal failures rejected, simulation_failed and
// submission_failed. A request never reaches submission unless the policy
// accepted it and the node estimated gas for the same from/to/value/data.
// Nonce fetch, signing and submission for one credential are serialized
// through a lock.Locker; confirmation waiting happens outside the lock.
// Requests are not deduplicated and nothing is retried internally.
package transfer
