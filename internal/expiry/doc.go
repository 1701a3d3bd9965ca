// Package expiry implements the daily expiring-pension check: select users
// active within the trailing window, evaluate each user's notification policy
// against the current instant, match active pensions expiring on the computed
// target date, and multicast one message per matched pension.
//
// Error-handling bias: evaluation failures map to "allow" (see Allow). The
// system prefers the risk of a redundant alert over the risk of silently
// suppressing one.
package expiry
