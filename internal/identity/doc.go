// Package identity persists enrolled people and their face samples in SQLite.
//
// Each identity carries the running mean of its sample embeddings, updated in
// the same transaction that writes or removes a sample, so the stored mean is
// always consistent with the sample table. Registered listeners are told about
// embedding and identity changes after the transaction commits; the embedding
// cache uses those notifications to stay current without re-reading the
// database.
package identity
