// Package kcouch is a client for CouchDB compatible document stores.
//
// Large view and _find results are walked with lazy, batch-paginated
// iterators. Writes go through revision-aware helpers that can skip unchanged
// documents and retry once on conflicts. Design documents and Mango indexes
// declared by several contributors are merged into one SchemaTree and
// converged onto the configured servers by a Migrator.
package kcouch
