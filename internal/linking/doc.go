// Package linking implements the account-linking flow: building the
// provider authorization URL for a user's chosen sub-services, handling
// the provider callback (code exchange, profile fetch, account upsert),
// and answering profile queries for already-linked accounts.
//
// The flow is a linear sequence of context-aware calls; each step either
// advances or aborts the attempt. Nothing is persisted until the final
// upsert, so a failed attempt leaves no partial state behind.
//
// The client's linking request travels through the provider round-trip as
// an opaque JSON state token ({braidUserId, services, clientCallback})
// carried in the `state` query parameter.
package linking
