// Package listener implements the Listener Registry.
//
// The registry holds event name → handler registrations independently of any
// transport. Each live transport gets its own Table; connecting a new
// transport replays every registration onto its Table, so subscriptions
// survive reconnects without callers re-subscribing.
package listener
