// Package catalog defines the domain types, collaborator interfaces and error
// taxonomy shared by the crawl, publish and catalog sync stages.
package catalog
