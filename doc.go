// Package vault gates access to members-only content behind a signed
// session plus an active membership record.
//
// Access decisions:
//   - AccessGate composes a SessionResolver and a MembershipChecker into
//     one decision per lifecycle: checking resolves to granted, denied
//     for lack of a session, or denied for lack of membership. Denials
//     issue at most one navigation side effect; a closed gate issues
//     none.
//   - SessionResolver subscribes to auth transitions before its first
//     read, then waits out a short hydration grace so a session restored
//     from storage is not mistaken for an absent one.
//   - MembershipChecker fails soft: absent records, inactive records, and
//     lookup errors all resolve to the same denial, so internal state
//     never leaks to unauthorized visitors.
//
// Signup tokens:
//   - SignupTokens are single-use, time-bounded credentials minted after
//     a paid order and redeemed once to provision a member plus an
//     active membership. Validation reports used before expired, and
//     never distinguishes unknown tokens from storage failures.
//
// Activity sinks:
//   - ActivitySink receives grant/deny, token lifecycle, and lookup
//     failure events best-effort (errors are logged), so audit trails and
//     metrics never block an access decision.
package vault
