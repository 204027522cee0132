// Package symbols assembles the KMI symbol list and enforces it.
//
// A build may merge several symbol list files into one allow-list. When
// trimming is enabled the allow-list is injected into the kernel
// configuration before compilation, and in strict mode the symbols actually
// exported by the build are compared against it afterwards.
package symbols
