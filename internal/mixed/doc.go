// Package mixed coordinates mixed builds, where the GKI kernel comes from a
// separately configured sub-build or from prebuilts and the parent build
// only compiles modules against it.
//
// The child build never sees the parent's environment. Its configuration is
// derived from the parent BuildConfig by DeriveChildConfig in four steps:
// a fixed inherited subset, a set of force-cleared keys, every GKI_<KEY>
// value rewritten to <KEY>, and fresh output directories.
package mixed
