// Package strategy selects the next backend to try for a request.
//
// Round robin is the only scheduling policy: the cursor advances once per
// examined backend, chosen or not, so the rotation position does not depend
// on which backends happen to be down. Unhealthy backends are skipped.
package strategy
