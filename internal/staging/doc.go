// Package staging owns the scratch directories where modules and images are
// assembled before they are copied into the distribution directory.
//
// Every staging root is wiped and recreated by the stage that uses it, so a
// stale file from an earlier run can never mask a regression. Concurrent
// builds sharing an output directory are not supported.
package staging
