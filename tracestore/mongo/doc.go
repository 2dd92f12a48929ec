// Package mongo implements tracestore.Store against MongoDB, the durable
// alternative to tracestore/inmem for production deployments (spec §6
// "Persisted state layout").
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain a tracestore.Store that persists one record per completed plan.
package mongo
