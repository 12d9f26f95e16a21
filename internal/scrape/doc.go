// Package scrape defines the core types, ports, and error taxonomy shared by
// the listing snapshot pipeline: work items, attempt keys, identities,
// attempt outcomes, and the narrow interfaces each collaborator satisfies.
package scrape
