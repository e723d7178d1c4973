// Package services holds the gateway's sub-services. A sub-service owns a
// wire id, declares the OAuth scopes a linked account needs for it, and
// handles the connection messages addressed to that id. The registry maps
// wire ids to services and feeds the account-linking flow the scope sets
// it asks for; unknown ids are excluded rather than rejected.
package services
