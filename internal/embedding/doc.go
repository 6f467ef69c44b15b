// Package embedding implements the vector arithmetic behind identity
// matching: unit normalization, cosine similarity on unit vectors, and the
// incrementally maintained running mean of an identity's samples. It also
// owns the on-disk blob encoding of vectors.
package embedding
